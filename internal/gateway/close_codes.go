package gateway

import (
	"errors"

	"github.com/imrelay/gateway/internal/gwerrors"
)

// WebSocket close codes used by the gateway. Standard codes (1000, 1001) are defined by RFC 6455; the 4000 range is
// reserved for application use (teacher's convention, generalized from the Discord-gateway close codes to this
// protocol's own failure modes).
const (
	CloseUnknownError     = 4000
	CloseDecodeError      = 4001
	CloseNotAuthenticated = 4002
	CloseAuthFailed       = 4003
	CloseRateLimited      = 4004
	CloseIdleTimeout      = 4005
	CloseMaxConnections   = 4006
)

// Sentinel errors for gateway failure modes, classified into the spec §7 taxonomy via gwerrors.Register.
var (
	ErrNotAuthenticated = errors.New("packet requires an authenticated session")
	ErrDeviceMismatch   = errors.New("device id does not match token claim")
	ErrMissingField     = errors.New("required field missing")
	ErrSendFailed       = errors.New("socket send failed")
	ErrInvariant        = errors.New("internal invariant violated")
	ErrMaxConnections   = errors.New("maximum connections reached")
)

func init() {
	gwerrors.Register(ErrNotAuthenticated, gwerrors.KindPreconditionError)
	gwerrors.Register(ErrDeviceMismatch, gwerrors.KindAuthError)
	gwerrors.Register(ErrMissingField, gwerrors.KindPreconditionError)
	gwerrors.Register(ErrSendFailed, gwerrors.KindDeliveryError)
	gwerrors.Register(ErrInvariant, gwerrors.KindInvariantViolation)
	gwerrors.Register(ErrMaxConnections, gwerrors.KindPreconditionError)
}
