// Package conntest provides in-memory sockets and dialers for tests of
// code built on connection.Manager.
package conntest

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/gorilla/websocket"
)

type inbound struct {
	typ  int
	data []byte
	err  error
}

// Socket is an in-memory connection.Socket. Frames pushed with
// PushText/PushBinary are returned by ReadMessage in order.
type Socket struct {
	in        chan inbound
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   []connection.Frame
	writeErr error
	written  chan connection.Frame
}

func NewSocket() *Socket {
	return &Socket{
		in:      make(chan inbound, 64),
		closed:  make(chan struct{}),
		written: make(chan connection.Frame, 256),
	}
}

func (s *Socket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.in:
		return msg.typ, msg.data, msg.err
	case <-s.closed:
		return 0, nil, net.ErrClosed
	}
}

func (s *Socket) WriteMessage(messageType int, data []byte) error {
	if s.IsClosed() {
		return net.ErrClosed
	}

	s.mu.Lock()
	err := s.writeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if messageType == websocket.CloseMessage {
		return nil
	}

	f := connection.Frame{Type: messageType, Data: append([]byte(nil), data...)}
	s.mu.Lock()
	s.writes = append(s.writes, f)
	s.mu.Unlock()

	select {
	case s.written <- f:
	default:
	}
	return nil
}

func (s *Socket) SetWriteDeadline(time.Time) error {
	return nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

func (s *Socket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Socket) PushText(text string) {
	s.in <- inbound{typ: websocket.TextMessage, data: []byte(text)}
}

func (s *Socket) PushBinary(data []byte) {
	s.in <- inbound{typ: websocket.BinaryMessage, data: data}
}

// PushClose makes the next read fail with a websocket close error, as if
// the server had closed the connection.
func (s *Socket) PushClose(code int, text string) {
	s.in <- inbound{err: &websocket.CloseError{Code: code, Text: text}}
}

func (s *Socket) PushError(err error) {
	s.in <- inbound{err: err}
}

func (s *Socket) SetWriteError(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *Socket) Writes() []connection.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connection.Frame, len(s.writes))
	copy(out, s.writes)
	return out
}

// Written yields every data frame as it is written.
func (s *Socket) Written() <-chan connection.Frame {
	return s.written
}

var ErrRefused = errors.New("connection refused")

// Dialer hands out sockets in dial order. When Fail is set every dial
// fails with ErrRefused.
type Dialer struct {
	mu      sync.Mutex
	fail    bool
	urls    []string
	sockets []*Socket
	dialed  chan *Socket
}

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Socket, 64)}
}

func (d *Dialer) Dial(ctx context.Context, url string) (connection.Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.urls = append(d.urls, url)
	if d.fail {
		d.mu.Unlock()
		return nil, ErrRefused
	}
	s := NewSocket()
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()

	d.dialed <- s
	return s, nil
}

func (d *Dialer) SetFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Next waits for the next successfully dialed socket.
func (d *Dialer) Next(timeout time.Duration) (*Socket, bool) {
	select {
	case s := <-d.dialed:
		return s, true
	case <-time.After(timeout):
		return nil, false
	}
}
