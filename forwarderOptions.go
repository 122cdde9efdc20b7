package forward

import "time"

// ForwarderOptions are used to customize the Forwarder.
//
// # Invalid options are coerced
//
// NB: The struct pointer options approach is used to be consistent with the
// `HandlerOptions` approach used by log/slog.
type ForwarderOptions struct {

	// Host of the collector. The default is "localhost".
	Host string

	// Port of the collector, 1-65535. The default is 24224.
	Port int

	// Network protocol used to communicate with the collector, one of
	// tcp/tls/udp. The default is "tcp".
	Network string

	// InitialBufferSize sets the size, in bytes, of the fixed region backing
	// the pending buffer before any growth. The default is 256KiB (262144).
	InitialBufferSize int

	// MaxPendingBytes bounds the pending buffer. While the collector is
	// unreachable and backoff is active, unsent events accumulate in memory;
	// with the default of 0 that growth is unbounded, preserving every
	// event at the cost of memory during a sustained outage. A positive
	// limit makes sends that would exceed it fail with ErrBufferFull,
	// dropping the new event and keeping everything already buffered.
	MaxPendingBytes int

	// DialTimeout sets the timeout for dialing the collector. The default
	// is 30s.
	DialTimeout time.Duration

	// WriteTimeout controls the timeout for each write to the collector. If
	// WriteTimeout < 0, then no timeout will be set. The default is 10
	// seconds.
	WriteTimeout time.Duration

	// EagerConnect makes the constructor dial the collector immediately
	// instead of waiting for the first send.
	EagerConnect bool

	// MaxEagerDialTries limits how many times the constructor will try to
	// connect when EagerConnect is set. If the value is < 0, the
	// constructor will not return until a connection is established. The
	// default is 10.
	MaxEagerDialTries int

	// InsecureSkipVerify controls whether the forwarder verifies the
	// collector's certificate chain and host name when using TLS.
	InsecureSkipVerify bool

	// Serializer encodes (tag, time, record) events into wire bytes. The
	// default is a MessageSerializer with default encoder options.
	Serializer Serializer

	// Transport establishes collector connections. The default dials over
	// the configured Network with the stdlib dialers.
	Transport Transport

	// Clock supplies event timestamps and the backoff gate's notion of now.
	// The default is the system wall clock.
	Clock Clock

	// Verbose controls whether debug logs are written to the internal
	// logger.
	Verbose bool
}

const (
	defaultHost              = "localhost"
	defaultPort              = 24224
	defaultNetwork           = "tcp"
	defaultInitialBufferSize = 256 << 10
	defaultDialTimeout       = time.Second * 30
	defaultWriteTimeout      = time.Second * 10
	defaultEagerDialTries    = 10
)

// DefaultForwarderOptions returns *ForwarderOptions with all default
// values.
func DefaultForwarderOptions() *ForwarderOptions {
	o := &ForwarderOptions{
		Host:              defaultHost,
		Port:              defaultPort,
		Network:           defaultNetwork,
		InitialBufferSize: defaultInitialBufferSize,
		DialTimeout:       defaultDialTimeout,
		WriteTimeout:      defaultWriteTimeout,
		MaxEagerDialTries: defaultEagerDialTries,
	}
	o.resolve()
	return o
}

// resolve ensures that all options have valid values.
func (o *ForwarderOptions) resolve() {

	if len(o.Host) == 0 {
		o.Host = defaultHost
	}

	// constrain to valid range
	if o.Port < 1 || o.Port > 65535 {
		o.Port = defaultPort
	}

	// only [tcp|tls|udp]
	if o.Network != "tcp" && o.Network != "tls" && o.Network != "udp" {
		o.Network = defaultNetwork
	}

	// must be positive
	if o.InitialBufferSize < 1 {
		o.InitialBufferSize = defaultInitialBufferSize
	}

	// 0 means unbounded; negative makes no sense
	if o.MaxPendingBytes < 0 {
		o.MaxPendingBytes = 0
	}

	// must be positive
	if o.DialTimeout < 1 {
		o.DialTimeout = defaultDialTimeout
	}

	// can be negative (no timeout) or positive, but not 0
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}

	// can be negative (infinity) or positive, but not 0
	if o.MaxEagerDialTries == 0 {
		o.MaxEagerDialTries = defaultEagerDialTries
	}

	if o.Serializer == nil {
		o.Serializer = NewMessageSerializer(nil)
	}

	if o.Transport == nil {
		o.Transport = &netTransport{
			network:            o.Network,
			dialTimeout:        o.DialTimeout,
			writeTimeout:       o.WriteTimeout,
			insecureSkipVerify: o.InsecureSkipVerify,
		}
	}

	if o.Clock == nil {
		o.Clock = systemClock{}
	}
}
