package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Start rejections.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnknownTask    = "E_UNKNOWN_TASK"
	ErrNotOffered     = "E_NOT_OFFERED"
	ErrAlreadyStarted = "E_ALREADY_STARTED"
	ErrNoResource     = "E_NO_RESOURCE"
	ErrRateLimit      = "E_RATE_LIMIT"
	ErrBusy           = "E_BUSY"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownTask:     {},
	ErrNotOffered:      {},
	ErrAlreadyStarted:  {},
	ErrNoResource:      {},
	ErrRateLimit:       {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
