package forward

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// The Fluent forward protocol does not use the predefined (type -1) msgpack
// Time format. It assigns extension type 0 and packs the seconds and
// nanoseconds as two big-endian 32-bit integers:
//
// +-------+----+----+----+----+----+----+----+----+----+
// |     1 |  2 |  3 |  4 |  5 |  6 |  7 |  8 |  9 | 10 |
// +-------+----+----+----+----+----+----+----+----+----+
// |    D7 | 00 | second from epoch |     nanosecond    |
// +-------+----+----+----+----+----+----+----+----+----+
// |fixext8|type| 32bits integer BE | 32bits integer BE |
// +-------+----+----+----+----+----+----+----+----+----+
//
//   ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1#eventtime-ext-format

// EventTime is a time.Time that serializes to the forward protocol's
// sub-second timestamp extension type.
type EventTime time.Time

// compile-time check for msgpack Custom[En|De]coder conformance
var _ msgpack.CustomEncoder = (*EventTime)(nil)
var _ msgpack.CustomDecoder = (*EventTime)(nil)

const (
	eventTimeExtType = 0
	eventTimeLen     = 8
)

// EncodeMsgpack serializes the EventTime as fixext8 with extension type 0.
// The protocol has no timezone support, so the value is normalized to UTC,
// and the 32-bit seconds field constrains the representable range to
// 1970-2038.
func (t *EventTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(eventTimeExtType, eventTimeLen); err != nil {
		return fmt.Errorf("failed to encode EventTime ext header: %w", err)
	}

	utc := time.Time(*t).UTC()

	var payload [eventTimeLen]byte
	binary.BigEndian.PutUint32(payload[:4], uint32(utc.Unix()))
	binary.BigEndian.PutUint32(payload[4:], uint32(utc.Nanosecond()))

	if _, err := enc.Writer().Write(payload[:]); err != nil {
		return fmt.Errorf("failed to encode EventTime payload: %w", err)
	}

	return nil
}

// DecodeMsgpack deserializes an EventTime from the fixext8 representation.
func (t *EventTime) DecodeMsgpack(dec *msgpack.Decoder) error {

	// 2 header bytes plus the 8-byte payload
	buf := make([]byte, eventTimeLen+2)
	if err := dec.ReadFull(buf); err != nil {
		return fmt.Errorf("failed to decode EventTime: %w", err)
	}

	if buf[0] != 0xD7 {
		return fmt.Errorf("failed to decode EventTime: byte[0] = %X, expected: 0xD7 (fixext8)", buf[0])
	}
	if buf[1] != eventTimeExtType {
		return fmt.Errorf("failed to decode EventTime: byte[1] = %X, expected: 0x00 (ext type 0)", buf[1])
	}

	secs := int64(binary.BigEndian.Uint32(buf[2:6]))
	nsecs := int64(binary.BigEndian.Uint32(buf[6:]))
	*t = EventTime(time.Unix(secs, nsecs).In(time.UTC))

	return nil
}
