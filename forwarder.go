package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitdabbler/backoff"
)

// Sentinel errors returned by Forwarder operations.
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("forwarder is closed")

	// ErrBackingOff is returned when a send is deferred because the backoff
	// window from earlier failures has not elapsed. The event bytes remain
	// buffered and are sent by a later call.
	ErrBackingOff = errors.New("send deferred: backing off after transport failure")

	// ErrBufferFull is returned when appending an event would push the
	// pending buffer past MaxPendingBytes. The event is dropped; previously
	// buffered bytes are kept.
	ErrBufferFull = errors.New("pending buffer limit reached")
)

// maxBackoffWait caps the backoff window regardless of how many
// consecutive failures accumulate, so staleness stays bounded.
const maxBackoffWait = time.Minute

// Forwarder buffers encoded event records and forwards them to the
// collector. Events posted while the collector is unreachable accumulate in
// the pending buffer and are retransmitted, in posting order, once a send
// succeeds; buffered bytes are never dropped on a transport failure.
//
// A Forwarder is safe for concurrent use. One lock guards all mutable
// state, and the blocking network send happens under it, so at most one
// transport operation is in flight per Forwarder and the collector sees
// events in exactly the order they were posted. A hung send therefore
// blocks the posting goroutine and any concurrent posters; WriteTimeout
// bounds that window for the default transport.
type Forwarder struct {
	opts      *ForwarderOptions
	tagPrefix string

	mu          sync.Mutex
	pending     *Scratch[byte]
	conn        Conn
	failures    int
	lastFailure time.Time
	closed      bool
}

// NewForwarder creates a Forwarder that prefixes every event tag with
// tagPrefix. By default no connection is opened until the first send; with
// the EagerConnect option the constructor dials immediately, retrying with
// backoff up to MaxEagerDialTries before giving up.
func NewForwarder(tagPrefix string, opts *ForwarderOptions) (*Forwarder, error) {
	return NewForwarderContext(context.Background(), tagPrefix, opts)
}

// NewForwarderContext is NewForwarder with a Context bounding the eager
// connection attempts, if any.
func NewForwarderContext(ctx context.Context, tagPrefix string, opts *ForwarderOptions) (*Forwarder, error) {

	if opts == nil {
		opts = DefaultForwarderOptions()
	} else {
		opts.resolve()
	}

	f := &Forwarder{
		opts:      opts,
		tagPrefix: tagPrefix,
		pending:   NewScratch(make([]byte, opts.InitialBufferSize)),
	}

	f.debug("starting Forwarder with the resolved ForwarderOptions: %+v\n", f.opts)

	if opts.EagerConnect {
		if err := f.connectEagerly(ctx, opts.MaxEagerDialTries); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// Post encodes one event record under tagPrefix.tag, stamped with the
// current time, and attempts to send everything buffered.
func (f *Forwarder) Post(tag string, record any) error {
	return f.PostAt(tag, record, f.opts.Clock.Now())
}

// PostAt is Post with an explicit event timestamp.
func (f *Forwarder) PostAt(tag string, record any, t time.Time) error {
	enc, err := f.opts.Serializer.Encode(f.joinTag(tag), t, record)
	if err != nil {
		return fmt.Errorf("failed to encode event record: %w", err)
	}

	err = f.Write(enc.Bytes())
	enc.Free()
	return err
}

// Write appends pre-encoded record bytes to the pending buffer and, unless
// the backoff gate is closed, flushes the buffer's full contents to the
// collector. b must hold only complete records, so that a flush always
// sends whole records. On ErrBackingOff or a transport failure the bytes
// stay buffered for a later call.
func (f *Forwarder) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	if limit := f.opts.MaxPendingBytes; limit > 0 && f.pending.Len()+len(b) > limit {
		f.debug("dropping %d-byte event: pending %d of limit %d\n", len(b), f.pending.Len(), limit)
		return ErrBufferFull
	}

	f.pending.AppendSlice(b)

	if !f.canSend() {
		return ErrBackingOff
	}

	return f.flush()
}

// Flush sends all currently buffered bytes to the collector in one
// transport write, connecting first if necessary. Unlike Write, Flush is
// not gated by backoff: it is an explicit caller decision to try now.
func (f *Forwarder) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	return f.flush()
}

// Connect dials the collector immediately instead of waiting for the first
// send. It is a no-op when already connected.
func (f *Forwarder) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.conn != nil {
		return nil
	}

	return f.connect(ctx)
}

// Close makes one best-effort attempt to flush the pending buffer, ignoring
// the backoff gate, then shuts down and releases the connection and the
// buffer storage. Flush errors are logged and swallowed; shutdown and close
// errors are returned. Every operation after Close fails with ErrClosed.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.closed = true

	if err := f.flush(); err != nil {
		InternalLogger().Printf("failed to flush %d pending bytes during Close: %v", f.pending.Len(), err)
	}

	var err error
	if f.conn != nil {
		err = errors.Join(f.conn.Shutdown(), f.conn.Close())
		f.conn = nil
	}

	f.pending.Release()
	return err
}

// PendingBytes returns a view of the buffered, unsent bytes, for
// diagnostics and tests. The view is valid until the next Post, Write,
// Flush, or Close call.
func (f *Forwarder) PendingBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	return f.pending.View()
}

// flush sends the entire pending view in one transport write. Success
// truncates the buffer, keeping its capacity for reuse. Failure tears the
// connection down, records the failure for the backoff gate, and leaves the
// buffer untouched. Callers hold f.mu.
func (f *Forwarder) flush() error {
	if f.pending.Len() == 0 {
		return nil
	}

	if f.conn == nil {
		f.debug("not connected to collector; dialing\n")
		if err := f.connect(context.Background()); err != nil {
			return err
		}
	}

	if err := f.conn.Write(f.pending.View()); err != nil {
		f.debug("broken pipe detected; tearing down connection\n")
		if cerr := f.conn.Close(); cerr != nil {
			InternalLogger().Printf("error closing broken connection: %v", cerr)
		}
		f.conn = nil
		f.recordFailure()
		return fmt.Errorf("failed to write %d pending bytes to collector: %w", f.pending.Len(), err)
	}

	f.pending.Truncate(0)
	return nil
}

// connect dials the configured collector address. Success resets the
// failure bookkeeping; failure feeds the backoff gate. Callers hold f.mu.
func (f *Forwarder) connect(ctx context.Context) error {
	conn, err := f.opts.Transport.Dial(ctx, f.opts.Host, f.opts.Port)
	if err != nil {
		f.recordFailure()
		return fmt.Errorf("failed to connect to collector at %s:%d: %w", f.opts.Host, f.opts.Port, err)
	}

	f.debug("connected to collector at %s:%d\n", f.opts.Host, f.opts.Port)
	f.conn = conn
	f.failures = 0
	f.lastFailure = time.Time{}
	return nil
}

// connectEagerly retries Connect with sleeping backoff until it succeeds or
// maxAttempts is reached. maxAttempts < 0 retries indefinitely.
func (f *Forwarder) connectEagerly(ctx context.Context, maxAttempts int) error {
	b, err := backoff.New(
		backoff.WithInitialDelay(0),
		backoff.WithExponentialLimit(time.Second*20),
	)
	if err != nil {
		return err
	}

	i := 0
	for {
		i++
		err = f.Connect(ctx)
		if err == nil {
			f.debug("successfully connected to collector\n")
			return nil
		}

		f.debug("failed to connect to collector on attempt %d: %v\n", i, err)

		if maxAttempts > 0 && i >= maxAttempts {
			break
		}

		b.Sleep()
	}

	return fmt.Errorf("failed to connect to collector; maxAttempts reached: %d: %w", maxAttempts, err)
}

// canSend reports whether enough time has elapsed since the last recorded
// failure: min(2^failures, maxBackoffWait). With no recorded failure it is
// always true. Callers hold f.mu.
func (f *Forwarder) canSend() bool {
	if f.lastFailure.IsZero() {
		return true
	}
	return f.opts.Clock.Now().Sub(f.lastFailure) >= backoffWait(f.failures)
}

// backoffWait computes the capped exponential wait after the given number
// of consecutive failures: 1 failure waits 2s, 2 wait 4s, and so on up to
// maxBackoffWait.
func backoffWait(failures int) time.Duration {
	// 2^6 s already exceeds the cap; also guards the shift
	if failures >= 6 {
		return maxBackoffWait
	}
	d := time.Duration(1<<uint(failures)) * time.Second
	if d > maxBackoffWait {
		d = maxBackoffWait
	}
	return d
}

func (f *Forwarder) recordFailure() {
	f.failures++
	f.lastFailure = f.opts.Clock.Now()
}

// joinTag joins the forwarder's tag prefix with the per-event tag,
// degenerating to whichever side is non-empty.
func (f *Forwarder) joinTag(tag string) string {
	switch {
	case f.tagPrefix == "":
		return tag
	case tag == "":
		return f.tagPrefix
	default:
		return f.tagPrefix + "." + tag
	}
}

func (f *Forwarder) debug(format string, args ...any) {
	if !f.opts.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}
