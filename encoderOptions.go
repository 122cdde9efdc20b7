package forward

// EncoderOptions are used to customize the Encoders and the Encoder pool.
//
// NB: The struct pointer options approach is used to be consistent with the
// ForwarderOptions, which follow the `HandlerOptions` approach used by
// log/slog.
type EncoderOptions struct {

	// NewBufferCap sets the capacity, in bytes, for newly created Encoder
	// buffers. The minimum value is 64 bytes. The default is 1KiB (1<<10).
	NewBufferCap int

	// MaxBufferCap sets the maximum buffer capacity, in bytes, beyond which
	// an Encoder will not be returned to the shared Encoder pool, to prevent
	// rare, unusually large records from staying resident in memory. The
	// minimum value is the `NewBufferCap`. The default is 8KiB (1<<13).
	MaxBufferCap int

	// UseCoarseTimestamps controls whether the event time is serialized as
	// Unix epoch, which is useful for pre-2016 legacy collectors that do not
	// support sub-second precision. The default is false, so timestamps are
	// serialized as forward protocol `EventTime` values.
	UseCoarseTimestamps bool
}

const (
	minBufferCap        = 64
	defaultNewBufferCap = 1024
	defaultMaxBufferCap = 8192
)

// DefaultEncoderOptions returns *EncoderOptions with all default values.
func DefaultEncoderOptions() *EncoderOptions {
	return &EncoderOptions{
		NewBufferCap: defaultNewBufferCap,
		MaxBufferCap: defaultMaxBufferCap,
	}
}

// resolve ensures that all options have valid values.
func (o *EncoderOptions) resolve() {
	o.NewBufferCap = max(o.NewBufferCap, minBufferCap)
	o.MaxBufferCap = max(o.NewBufferCap, o.MaxBufferCap)
}
