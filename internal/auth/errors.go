package auth

import (
	"errors"

	"github.com/imrelay/gateway/internal/gwerrors"
)

// Sentinel errors for the auth package. Text is intentionally generic: an unknown subject and an expired token must
// be indistinguishable to a caller, so neither message names which case occurred.
var (
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrDeviceIDMismatch = errors.New("device id does not match token claim")
)

func init() {
	gwerrors.Register(ErrInvalidToken, gwerrors.KindAuthError)
	gwerrors.Register(ErrDeviceIDMismatch, gwerrors.KindAuthError)
}
