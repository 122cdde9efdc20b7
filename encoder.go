package forward

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EncoderPool defines a shared *Encoder pool, used to minimize heap
// allocations while serializing event records.
type EncoderPool struct {
	p sync.Pool
	*EncoderOptions
}

// NewEncoderPool creates a shared *Encoder pool.
func NewEncoderPool(opts *EncoderOptions) *EncoderPool {
	if opts == nil {
		opts = DefaultEncoderOptions()
	} else {
		opts.resolve()
	}

	ep := &EncoderPool{EncoderOptions: opts}

	ep.p = sync.Pool{
		New: func() any {
			enc := NewEncoder(opts.NewBufferCap)
			enc.p = ep
			return enc
		},
	}

	return ep
}

// Get returns an empty Encoder from the pool.
func (p *EncoderPool) Get() *Encoder {
	return p.p.Get().(*Encoder)
}

// Put resets an Encoder and returns it to the shared pool.
func (p *EncoderPool) Put(e *Encoder) {

	// drop if the buffer got too large
	if e.Buffer.Cap() > p.MaxBufferCap {
		return
	}

	// reset for the next usage
	e.Buffer.Reset()
	e.Encoder.Reset(e.Buffer)

	p.p.Put(e)
}

// Encoder provides a msgpack encoder and its underlying bytes.Buffer. Its
// Bytes hold one fully encoded event record, which the Forwarder copies
// into the pending buffer before the Encoder is Freed.
type Encoder struct {
	*bytes.Buffer
	*msgpack.Encoder
	p *EncoderPool
}

// NewEncoder returns a newly allocated Encoder.
func NewEncoder(bufferCap int) *Encoder {
	buf := bytes.NewBuffer(make([]byte, 0, bufferCap))
	return &Encoder{
		Buffer:  buf,
		Encoder: msgpack.NewEncoder(buf),
	}
}

// Free returns the encoder to its shared pool, if it came from one.
func (e *Encoder) Free() {
	if e.p != nil {
		e.p.Put(e)
	}
}

// EncodeEventTime is a helper that by default encodes a time value in the
// forward protocol's sub-second EventTime format. If the Encoder's pool is
// set to use coarse timestamps, the value is encoded as a 64-bit Unix
// epoch integer instead.
func (e *Encoder) EncodeEventTime(t time.Time) error {

	// no timezone support in the protocol; ensure time is in UTC
	utc := t.In(time.UTC)

	if e.p != nil && e.p.UseCoarseTimestamps {
		if err := e.EncodeInt64(utc.Unix()); err != nil {
			return fmt.Errorf("failed to encode timestamp as int64: %w", err)
		}
		return nil
	}

	et := EventTime(utc)
	if err := e.Encode(&et); err != nil {
		return fmt.Errorf("failed to encode timestamp as EventTime: %w", err)
	}

	return nil
}
