/*
Package forward provides a buffered client for forwarding structured event
records to a Fluent-style collector over a stream connection, including:

  - `forward.Forwarder` - buffers encoded events and manages the collector
    connection, with lazy connects and capped exponential backoff
  - `forward.MessageSerializer` - encodes (tag, time, record) events as
    msgpack Message-mode arrays
  - `forward.Scratch` - the growable scratch buffer backing the pending
    event bytes
  - `forward.Handler` - bridges log/slog records into the Forwarder

The Forwarder never blocks the caller on a background queue and never drops
buffered bytes on a transport failure: events accumulate in the pending
buffer across collector outages and are retransmitted, in order, once the
backoff window has elapsed and a send succeeds. All sends from one Forwarder
are serialized by its lock, so the collector observes events in exactly the
order they were posted.

Examples of efficiency optimizations:

  - the pending buffer starts on a single fixed region and only moves to
    grown storage when an outage backs events up beyond its capacity
  - a successful flush truncates the pending buffer without releasing its
    capacity, so steady-state forwarding does not reallocate
  - record encoders are pooled, and encoders whose buffers grew unusually
    large are dropped rather than returned to the pool
*/
package forward
