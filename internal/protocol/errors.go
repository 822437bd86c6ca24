package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Ingest layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidID     = "E_INVALID_ID"
	ErrUnknownEntity = "E_UNKNOWN_ENTITY"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrInvalidID:       {},
	ErrUnknownEntity:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
