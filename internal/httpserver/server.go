// Package httpserver exposes the points service over HTTP.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
)

const requestIDHeader = "X-Request-Id"

// Registrar creates entities in the backing store. Registration is a store
// concern, not part of the core ledger contract.
type Registrar interface {
	Register(ctx context.Context, entityKey points.EntityKey, initial points.Balance) error
}

// Run boots the HTTP facade using the supplied configuration.
func Run(ctx context.Context, cfg Config, service *points.Service, registrar Registrar, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if service == nil {
		return fmt.Errorf("httpserver: service dependency is nil")
	}
	if logger == nil {
		return fmt.Errorf("httpserver: logger dependency is nil")
	}

	handler := &httpHandler{
		logger:    logger,
		service:   service,
		registrar: registrar,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("points api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogging(handler.logger))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	point := router.Group("/point")
	point.POST("/:id", handler.handleRegister)
	point.GET("/:id", handler.handleBalance)
	point.GET("/:id/histories", handler.handleHistories)
	point.PATCH("/:id/charge", handler.handleCharge)
	point.PATCH("/:id/use", handler.handleUse)

	return router
}

func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Header(requestIDHeader, id)
		ctx.Set("request_id", id)
		ctx.Next()
	}
}

func requestLogging(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		logger.Info("request",
			zap.String("request_id", ctx.GetString("request_id")),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		)
	}
}

type httpHandler struct {
	logger    *zap.Logger
	service   *points.Service
	registrar Registrar
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type registerRequest struct {
	Balance int64 `json:"balance"`
}

type balanceResponse struct {
	EntityKey int64 `json:"entityKey"`
	Balance   int64 `json:"balance"`
}

type historyResponse struct {
	ID              int64  `json:"id"`
	EntityKey       int64  `json:"entityKey"`
	Amount          int64  `json:"amount"`
	Kind            string `json:"kind"`
	TimestampMillis int64  `json:"timestampMillis"`
}

func (handler *httpHandler) handleRegister(ctx *gin.Context) {
	rawKey, ok := parseKey(ctx)
	if !ok {
		return
	}
	var request registerRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			writeErrorCode(ctx, http.StatusBadRequest, "malformed_body")
			return
		}
	}
	entityKey, err := points.NewEntityKey(rawKey)
	if err != nil {
		writeError(ctx, err)
		return
	}
	initial, err := points.NewBalance(request.Balance)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if handler.registrar == nil {
		writeErrorCode(ctx, http.StatusNotImplemented, "registration_disabled")
		return
	}
	if err := handler.registrar.Register(ctx.Request.Context(), entityKey, initial); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, balanceResponse{EntityKey: entityKey.Int64(), Balance: initial.Int64()})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	rawKey, ok := parseKey(ctx)
	if !ok {
		return
	}
	balance, err := handler.service.GetBalance(ctx.Request.Context(), rawKey)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{EntityKey: rawKey, Balance: balance.Int64()})
}

func (handler *httpHandler) handleHistories(ctx *gin.Context) {
	rawKey, ok := parseKey(ctx)
	if !ok {
		return
	}
	records, err := handler.service.GetHistory(ctx.Request.Context(), rawKey)
	if err != nil {
		writeError(ctx, err)
		return
	}
	histories := make([]historyResponse, 0, len(records))
	for _, record := range records {
		histories = append(histories, historyResponse{
			ID:              record.ID,
			EntityKey:       record.EntityKey,
			Amount:          record.Amount,
			Kind:            record.Kind.String(),
			TimestampMillis: record.TimestampMillis,
		})
	}
	ctx.JSON(http.StatusOK, histories)
}

func (handler *httpHandler) handleCharge(ctx *gin.Context) {
	handler.handleMutation(ctx, handler.service.Charge)
}

func (handler *httpHandler) handleUse(ctx *gin.Context) {
	handler.handleMutation(ctx, handler.service.Use)
}

func (handler *httpHandler) handleMutation(ctx *gin.Context, mutate func(context.Context, int64, int64) (points.Balance, error)) {
	rawKey, ok := parseKey(ctx)
	if !ok {
		return
	}
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		writeErrorCode(ctx, http.StatusBadRequest, "malformed_body")
		return
	}
	balance, err := mutate(ctx.Request.Context(), rawKey, request.Amount)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{EntityKey: rawKey, Balance: balance.Int64()})
}

func parseKey(ctx *gin.Context) (int64, bool) {
	rawKey, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		writeErrorCode(ctx, http.StatusBadRequest, "invalid_entity_key")
		return 0, false
	}
	return rawKey, true
}

func writeError(ctx *gin.Context, err error) {
	status, code := mapDomainError(err)
	ctx.JSON(status, gin.H{"code": code, "message": err.Error()})
}

func writeErrorCode(ctx *gin.Context, status int, code string) {
	ctx.JSON(status, gin.H{"code": code})
}

func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, points.ErrInvalidEntityKey):
		return http.StatusBadRequest, "invalid_entity_key"
	case errors.Is(err, points.ErrAmountTooSmall):
		return http.StatusBadRequest, "amount_too_small"
	case errors.Is(err, points.ErrAmountTooLarge):
		return http.StatusBadRequest, "amount_too_large"
	case errors.Is(err, points.ErrInvalidBalance):
		return http.StatusBadRequest, "invalid_balance"
	case errors.Is(err, points.ErrEntityNotFound):
		return http.StatusNotFound, "entity_not_found"
	case errors.Is(err, points.ErrEntityAlreadyRegistered):
		return http.StatusConflict, "entity_already_registered"
	case errors.Is(err, points.ErrDailyChargeLimitExceeded):
		return http.StatusUnprocessableEntity, "daily_charge_limit_exceeded"
	case errors.Is(err, points.ErrDailyUseLimitExceeded):
		return http.StatusUnprocessableEntity, "daily_use_limit_exceeded"
	case errors.Is(err, points.ErrBalanceCeilingExceeded):
		return http.StatusUnprocessableEntity, "balance_ceiling_exceeded"
	case errors.Is(err, points.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	}
	return http.StatusInternalServerError, "internal_error"
}
