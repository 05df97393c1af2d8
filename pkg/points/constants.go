package points

const (
	operationCharge = "charge"
	operationUse    = "use"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
