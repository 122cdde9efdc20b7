package forward

import (
	"fmt"
	"time"
)

// Serializer turns one (tag, time, record) event into wire bytes. Encode
// must be deterministic, perform no I/O, and be safe for concurrent use.
// The returned Encoder holds exactly one complete record; the caller copies
// its Bytes out and then calls Free.
type Serializer interface {
	Encode(tag string, t time.Time, record any) (*Encoder, error)
}

// MessageSerializer encodes events in the forward protocol's Message mode:
// a msgpack array of [tag, time, record]. Each encoded message is
// independently decodable, so a flush may concatenate any number of them
// with no additional framing.
type MessageSerializer struct {
	pool *EncoderPool
}

// compile-time check that MessageSerializer satisfies Serializer
var _ Serializer = (*MessageSerializer)(nil)

// NewMessageSerializer returns a MessageSerializer drawing pooled encoders
// configured by opts. A nil opts uses the defaults.
func NewMessageSerializer(opts *EncoderOptions) *MessageSerializer {
	return &MessageSerializer{pool: NewEncoderPool(opts)}
}

// Encode serializes one Message-mode event. On failure the pooled encoder
// is released before the error is returned.
func (s *MessageSerializer) Encode(tag string, t time.Time, record any) (*Encoder, error) {
	enc := s.pool.Get()

	if err := s.encode(enc, tag, t, record); err != nil {
		enc.Free()
		return nil, err
	}

	return enc, nil
}

func (s *MessageSerializer) encode(enc *Encoder, tag string, t time.Time, record any) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return fmt.Errorf("failed to encode message array header: %w", err)
	}
	if err := enc.EncodeString(tag); err != nil {
		return fmt.Errorf("failed to encode message tag: %w", err)
	}
	if err := enc.EncodeEventTime(t); err != nil {
		return fmt.Errorf("failed to encode message time: %w", err)
	}
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("failed to encode message record: %w", err)
	}
	return nil
}
