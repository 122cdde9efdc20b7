package forward

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// TestMessage is one decoded Message-mode event:
// [
//
//	tag<string>,
//	time<EventTime | int>,
//	record<map[string]any>
//
// ]
type TestMessage struct {
	Tag    string
	Time   time.Time
	Record map[string]any
}

// DecodeMsgpack deserializes one Message-mode event from the stream.
func (m *TestMessage) DecodeMsgpack(dec *msgpack.Decoder) error {

	if _, err := dec.DecodeArrayLen(); err != nil {
		return fmt.Errorf("failed to decode outer message array length: %v", err)
	}

	// decode the tag
	if err := dec.Decode(&m.Tag); err != nil {
		return fmt.Errorf("failed to decode tag field: %v", err)
	}

	// decode the timestamp, either sub-second or coarse
	typeCode, err := dec.PeekCode()
	if err != nil {
		return fmt.Errorf("failed to read type code for the time field: %v", err)
	}
	if typeCode == msgpcode.FixExt8 {
		et := EventTime{}
		if err := dec.Decode(&et); err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Time(et)
	} else {
		unix, err := dec.DecodeInt64()
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Unix(unix, 0).In(time.UTC)
	}

	// decode the record
	if err := dec.Decode(&m.Record); err != nil {
		return fmt.Errorf("failed to decode the record field: %v", err)
	}

	return nil
}

func (m *TestMessage) decodeFrom(r io.Reader) error {
	return msgpack.NewDecoder(r).Decode(m)
}

type testServer struct {
	listener   net.Listener
	messageCh  chan *TestMessage
	host       string
	port       int
	shutdownCh chan struct{}
	verbose    bool
}

const testHost = "127.0.0.1"

func newTestServer(verbose bool) (*testServer, error) {

	s := &testServer{
		messageCh:  make(chan *TestMessage, 128),
		shutdownCh: make(chan struct{}),
		host:       testHost,
		verbose:    verbose,
	}

	// assign the port dynamically
	l, err := net.Listen("tcp", s.host+":0")
	if err != nil {
		return nil, fmt.Errorf("failed to start test server listener: %v", err)
	}
	s.listener = l

	// parse out the dynamically assigned port
	addr := l.Addr().String()
	idx := strings.LastIndex(addr, ":")
	if idx == len(addr)-1 {
		return nil, errors.New("bad addr: ends with ':'")
	}
	s.port, err = strconv.Atoi(addr[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("invalid port value: '%s': %v", addr[idx+1:], err)
	}

	// start the server loop
	go func() {
		s.debug("starting listener")
		for {
			select {
			case <-s.shutdownCh:
				s.debug("shutting down")
				s.listener.Close()
				return
			default:
				conn, err := l.Accept()
				if err != nil {
					s.debug("listener.Accept() error: %v", err)
					continue
				}
				s.debug("new client connected")
				go s.handle(conn)
			}
		}
	}()

	return s, nil
}

func (s *testServer) Shutdown() {
	close(s.shutdownCh)
}

func (s *testServer) handle(conn net.Conn) {
	d := msgpack.NewDecoder(conn)

	for {
		m := new(TestMessage)
		if err := d.Decode(m); err != nil {
			s.debug("failed to decode message: %v\n", err)
			break
		}
		s.messageCh <- m
	}

	s.debug("closing connection")
	conn.Close()
}

func (s *testServer) debug(format string, args ...any) {
	if !s.verbose {
		return
	}
	InternalLogger().Printf("testServer: "+format, args...)
}

func (s *testServer) receive(t *testing.T, timeout time.Duration) *TestMessage {
	t.Helper()
	select {
	case <-time.After(timeout):
		t.Fatal("test message was not received in time")
		return nil
	case m := <-s.messageCh:
		return m
	}
}

func TestForwarder_EndToEndTCP(t *testing.T) {

	ts, err := newTestServer(false)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	f, err := NewForwarder("test", &ForwarderOptions{
		Host:        testHost,
		Port:        ts.port,
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create Forwarder: %v", err)
	}

	eventTime := time.Date(2023, time.June, 1, 12, 0, 0, 31000, time.UTC)
	record := map[string]any{
		"key-01": "value-01",
		"key-02": "value-02",
	}

	if err := f.PostAt("tag", record, eventTime); err != nil {
		t.Fatalf("failed to post the test event: %v", err)
	}

	m := ts.receive(t, time.Second)
	if m.Tag != "test.tag" {
		t.Fatalf("expected tag: test.tag, got: %s", m.Tag)
	}
	if !m.Time.Equal(eventTime) {
		t.Fatalf("expected time: %v, got: %v", eventTime, m.Time)
	}
	for k, v := range record {
		if m.Record[k] != v {
			t.Fatalf("expected record[%s] = %v, got: %v", k, v, m.Record[k])
		}
	}

	if err := f.Close(); err != nil {
		t.Fatalf("failed to close the Forwarder: %v", err)
	}
}

func TestForwarder_EndToEndBufferedAcrossOutage(t *testing.T) {

	f, err := NewForwarder("test", &ForwarderOptions{
		Host:        testHost,
		Port:        1, // nothing listens here
		DialTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create Forwarder: %v", err)
	}

	// the collector is down; the event must fail to send but stay buffered
	if err := f.Post("tag", map[string]any{"k": "v"}); err == nil {
		t.Fatal("expected a connect failure")
	}
	pending := f.PendingBytes()
	if len(pending) == 0 {
		t.Fatal("expected the encoded event to remain pending")
	}

	// the buffered bytes decode as one complete message
	m := new(TestMessage)
	if err := m.decodeFrom(strings.NewReader(string(pending))); err != nil {
		t.Fatalf("pending bytes are not a whole message: %v", err)
	}
	if m.Tag != "test.tag" {
		t.Fatalf("expected tag: test.tag, got: %s", m.Tag)
	}
}
