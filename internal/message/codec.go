// internal/message/codec.go
// Length-prefixed framing: [4-byte big-endian length][tag byte][CBOR array of string fields].
package message

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/fxamacker/cbor/v2"
)

const (
	// HeaderSize is the width of the length field in front of every payload.
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a declared payload length on the read side.
	DefaultMaxFrameSize = 8 << 20
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("message: cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		UTF8:            cbor.UTF8RejectInvalid,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("message: cbor decoder: %v", err))
	}
}

// EncodePayload serializes m without the length header.
func EncodePayload(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("message.EncodePayload: nil message")
	}
	body, err := encMode.Marshal(m.fields())
	if err != nil {
		return nil, fmt.Errorf("message.EncodePayload: %w", err)
	}
	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, byte(m.Kind()))
	return append(payload, body...), nil
}

// Encode serializes m into a complete frame.
func Encode(m Message) ([]byte, error) {
	payload, err := EncodePayload(m)
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("message.Encode: %w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Decode decodes the first frame in b. Bytes past the declared length are ignored.
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d header bytes", ErrTruncatedFrame, len(b))
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(len(b)-HeaderSize) < uint64(n) {
		return nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncatedFrame, n, len(b)-HeaderSize)
	}
	return DecodePayload(b[HeaderSize : HeaderSize+int(n)])
}

// DecodePayload decodes a payload stripped of its length header.
func DecodePayload(p []byte) (Message, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	k := Kind(p[0])
	if k > KindLeft {
		return nil, fmt.Errorf("%w: tag %#02x", ErrUnknownVariant, p[0])
	}
	var fields []string
	if err := decMode.Unmarshal(p[1:], &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, k, err)
	}
	return fromFields(k, fields)
}

// Reader reads frames from a byte stream.
type Reader struct {
	r      io.Reader
	max    uint32
	header [HeaderSize]byte
}

// NewReader returns a Reader that rejects frames larger than maxFrameSize.
// A maxFrameSize of zero or less disables the check.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	rd := &Reader{r: r}
	if maxFrameSize > 0 && uint64(maxFrameSize) <= math.MaxUint32 {
		rd.max = uint32(maxFrameSize)
	}
	return rd
}

// ReadMessage blocks until one complete frame is read and decoded.
// A stream that ends cleanly between frames returns io.EOF.
func (r *Reader) ReadMessage() (Message, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: %w", ErrTruncatedFrame, err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(r.header[:])
	if r.max > 0 && n > r.max {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, n, r.max)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: %w", ErrTruncatedFrame, err)
		}
		return nil, err
	}
	return DecodePayload(payload)
}

// Writer writes one frame per message with a single Write call.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteMessage(m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.w.Write(frame)
	return err
}
