package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/points/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/points/pkg/keylock"
	"github.com/MarkoPoloResearchLab/points/pkg/points"
)

type fixedTimeSource struct {
	nowMillis             int64
	startOfTodayMillis    int64
	startOfTomorrowMillis int64
}

func (source *fixedTimeSource) NowMillis() int64             { return source.nowMillis }
func (source *fixedTimeSource) StartOfTodayMillis() int64    { return source.startOfTodayMillis }
func (source *fixedTimeSource) StartOfTomorrowMillis() int64 { return source.startOfTomorrowMillis }

func newTestRouter(test *testing.T) http.Handler {
	test.Helper()
	store := memstore.New()
	timeSource := &fixedTimeSource{
		nowMillis:             50_000,
		startOfTodayMillis:    0,
		startOfTomorrowMillis: 86_400_000,
	}
	locks, err := keylock.NewManager(60_000, timeSource.NowMillis)
	if err != nil {
		test.Fatalf("lock manager init: %v", err)
	}
	service, err := points.NewService(store, timeSource, locks)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	handler := &httpHandler{
		logger:    zap.NewNop(),
		service:   service,
		registrar: store,
	}
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}
	return setupRouter(cfg, handler)
}

func performJSON(test *testing.T, router http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func registerEntity(test *testing.T, router http.Handler, rawKey int64, balance int64) {
	test.Helper()
	recorder := performJSON(test, router, http.MethodPost, fmt.Sprintf("/point/%d", rawKey), map[string]int64{"balance": balance})
	if recorder.Code != http.StatusCreated {
		test.Fatalf("register returned %d: %s", recorder.Code, recorder.Body.String())
	}
}

func decodeBalance(test *testing.T, recorder *httptest.ResponseRecorder) balanceResponse {
	test.Helper()
	var response balanceResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		test.Fatalf("decode balance response: %v", err)
	}
	return response
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test)
	recorder := performJSON(test, router, http.MethodGet, "/healthz", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestRegisterThenChargeAndUse(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test)
	registerEntity(test, router, 1, 10_000)

	recorder := performJSON(test, router, http.MethodPatch, "/point/1/charge", map[string]int64{"amount": 5_000})
	if recorder.Code != http.StatusOK {
		test.Fatalf("charge returned %d: %s", recorder.Code, recorder.Body.String())
	}
	if response := decodeBalance(test, recorder); response.Balance != 15_000 {
		test.Fatalf("expected balance 15000, got %d", response.Balance)
	}

	recorder = performJSON(test, router, http.MethodPatch, "/point/1/use", map[string]int64{"amount": 3_000})
	if recorder.Code != http.StatusOK {
		test.Fatalf("use returned %d: %s", recorder.Code, recorder.Body.String())
	}
	if response := decodeBalance(test, recorder); response.Balance != 12_000 {
		test.Fatalf("expected balance 12000, got %d", response.Balance)
	}

	recorder = performJSON(test, router, http.MethodGet, "/point/1", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("balance returned %d", recorder.Code)
	}
	if response := decodeBalance(test, recorder); response.Balance != 12_000 {
		test.Fatalf("expected balance 12000, got %d", response.Balance)
	}
}

func TestHistoriesListRecords(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test)
	registerEntity(test, router, 1, 0)

	if recorder := performJSON(test, router, http.MethodPatch, "/point/1/charge", map[string]int64{"amount": 2_000}); recorder.Code != http.StatusOK {
		test.Fatalf("charge returned %d", recorder.Code)
	}
	if recorder := performJSON(test, router, http.MethodPatch, "/point/1/use", map[string]int64{"amount": 500}); recorder.Code != http.StatusOK {
		test.Fatalf("use returned %d", recorder.Code)
	}

	recorder := performJSON(test, router, http.MethodGet, "/point/1/histories", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("histories returned %d", recorder.Code)
	}
	var histories []historyResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &histories); err != nil {
		test.Fatalf("decode histories: %v", err)
	}
	if len(histories) != 2 {
		test.Fatalf("expected two records, got %d", len(histories))
	}
	if histories[0].Kind != "CHARGE" || histories[0].Amount != 2_000 {
		test.Fatalf("unexpected first record: %+v", histories[0])
	}
	if histories[1].Kind != "USE" || histories[1].Amount != 500 {
		test.Fatalf("unexpected second record: %+v", histories[1])
	}
}

func TestDomainErrorsMapToStatusCodes(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test)
	registerEntity(test, router, 1, 1_000)

	testCases := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown entity",
			method:     http.MethodGet,
			path:       "/point/99",
			wantStatus: http.StatusNotFound,
			wantCode:   "entity_not_found",
		},
		{
			name:       "unknown entity histories",
			method:     http.MethodGet,
			path:       "/point/99/histories",
			wantStatus: http.StatusNotFound,
			wantCode:   "entity_not_found",
		},
		{
			name:       "non-numeric key",
			method:     http.MethodGet,
			path:       "/point/abc",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_entity_key",
		},
		{
			name:       "non-positive key",
			method:     http.MethodGet,
			path:       "/point/0",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_entity_key",
		},
		{
			name:       "charge below minimum",
			method:     http.MethodPatch,
			path:       "/point/1/charge",
			body:       map[string]int64{"amount": 999},
			wantStatus: http.StatusBadRequest,
			wantCode:   "amount_too_small",
		},
		{
			name:       "use above balance",
			method:     http.MethodPatch,
			path:       "/point/1/use",
			body:       map[string]int64{"amount": 5_000},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "insufficient_balance",
		},
		{
			name:       "duplicate registration",
			method:     http.MethodPost,
			path:       "/point/1",
			body:       map[string]int64{"balance": 0},
			wantStatus: http.StatusConflict,
			wantCode:   "entity_already_registered",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			recorder := performJSON(test, router, testCase.method, testCase.path, testCase.body)
			if recorder.Code != testCase.wantStatus {
				test.Fatalf("expected status %d, got %d: %s", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
			var response struct {
				Code string `json:"code"`
			}
			if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
				test.Fatalf("decode error response: %v", err)
			}
			if response.Code != testCase.wantCode {
				test.Fatalf("expected code %q, got %q", testCase.wantCode, response.Code)
			}
		})
	}
}

func TestRequestIDHeaderIsEchoedOrAssigned(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test)

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set(requestIDHeader, "req-123")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if got := recorder.Header().Get(requestIDHeader); got != "req-123" {
		test.Fatalf("expected echoed request id, got %q", got)
	}

	recorder = performJSON(test, router, http.MethodGet, "/healthz", nil)
	if recorder.Header().Get(requestIDHeader) == "" {
		test.Fatalf("expected an assigned request id header")
	}
}
