package protocol

import (
	"encoding/json"
	"errors"

	"github.com/imrelay/gateway/internal/gwerrors"
)

// MaxFrameBytes is the largest frame the codec accepts, inclusive (spec §4.1, §8 boundary case: 64 KiB accepted,
// 64 KiB+1 rejected).
const MaxFrameBytes = 64 * 1024

// Sentinel errors the dispatcher classifies as ProtocolError (spec §7) via gwerrors.Classify.
var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrMalformedFrame = errors.New("frame is not valid JSON")
	ErrUnknownType    = errors.New("unknown packet type")
)

func init() {
	gwerrors.Register(ErrFrameTooLarge, gwerrors.KindProtocolError)
	gwerrors.Register(ErrMalformedFrame, gwerrors.KindProtocolError)
	gwerrors.Register(ErrUnknownType, gwerrors.KindProtocolError)
}

// Envelope is the wire-format structure for every frame exchanged over /ws: {type, seq, data}. Fields beyond these
// three are ignored on decode (spec §4.1).
type Envelope struct {
	Type Type            `json:"type"`
	Seq  string          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw inbound frame. It enforces the size limit before attempting to parse JSON, and checks the
// type code against the known inbound set. Any failure returns one of the package's sentinel errors
// unwrapped; callers use errors.Is against ErrFrameTooLarge / ErrMalformedFrame / ErrUnknownType, or route the
// returned error through gwerrors.Classify.
//
// On ErrUnknownType the returned Envelope still carries the Seq the client sent — the frame was valid JSON, so the
// request is recoverable and its SERVER_ERROR reply should echo the seq (spec §4.1 "seq echoed if recoverable"). On
// ErrFrameTooLarge or ErrMalformedFrame no seq could be parsed, so the returned Envelope is the zero value.
func Decode(raw []byte) (Envelope, error) {
	if len(raw) > MaxFrameBytes {
		return Envelope{}, ErrFrameTooLarge
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, ErrMalformedFrame
	}

	if !IsKnownInbound(env.Type) {
		return Envelope{Seq: env.Seq}, ErrUnknownType
	}

	return env, nil
}

// Encode serialises an outbound frame. seq is echoed from the triggering request for response frames, or empty for
// unsolicited server-initiated frames (spec §6).
func Encode(t Type, seq string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Seq: seq, Data: raw})
}

// MustEncode is like Encode but panics on a marshal error; intended only for outbound payload types whose shape is
// statically known to be marshalable (no channels, funcs, or cyclic pointers).
func MustEncode(t Type, seq string, data any) []byte {
	raw, err := Encode(t, seq, data)
	if err != nil {
		panic(err)
	}
	return raw
}

// Decode the type-specific data payload from an already-decoded Envelope.
func (e Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, dst)
}
