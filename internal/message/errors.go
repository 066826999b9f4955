package message

import "errors"

// ErrProtocol matches every decoding failure. A connection that produces one is not recoverable.
var ErrProtocol = errors.New("protocol error")

var (
	ErrTruncatedFrame   = protocolError("truncated frame")
	ErrUnknownVariant   = protocolError("unknown message variant")
	ErrMalformedPayload = protocolError("malformed payload")
	ErrFrameTooLarge    = protocolError("frame exceeds size limit")
)

type protoErr struct{ msg string }

func (e *protoErr) Error() string        { return e.msg }
func (e *protoErr) Is(target error) bool { return target == ErrProtocol }

func protocolError(msg string) error { return &protoErr{msg: msg} }
