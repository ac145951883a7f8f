// Package transport binds the kernel's sockets over ZeroMQ.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-zeromq/zmq4"

	"github.com/leapstack-labs/starkernel/internal/kernel"
)

// Pattern is a ZeroMQ socket pattern.
type Pattern int

const (
	Reply Pattern = iota
	Router
	Publish
	Request
	Dealer
	Subscribe
)

func (p Pattern) String() string {
	switch p {
	case Reply:
		return "REP"
	case Router:
		return "ROUTER"
	case Publish:
		return "PUB"
	case Request:
		return "REQ"
	case Dealer:
		return "DEALER"
	case Subscribe:
		return "SUB"
	default:
		return "UNKNOWN"
	}
}

// Socket adapts a zmq4 socket to multi-frame byte slices.
type Socket struct {
	sock     zmq4.Socket
	pattern  Pattern
	endpoint string
}

var _ kernel.Socket = (*Socket)(nil)

func newSocket(ctx context.Context, pattern Pattern) (zmq4.Socket, error) {
	switch pattern {
	case Reply:
		return zmq4.NewRep(ctx), nil
	case Router:
		return zmq4.NewRouter(ctx), nil
	case Publish:
		return zmq4.NewPub(ctx), nil
	case Request:
		return zmq4.NewReq(ctx), nil
	case Dealer:
		return zmq4.NewDealer(ctx), nil
	case Subscribe:
		return zmq4.NewSub(ctx), nil
	default:
		return nil, fmt.Errorf("transport: unknown pattern %d", pattern)
	}
}

// Listen binds a socket of the given pattern to endpoint.
func Listen(ctx context.Context, pattern Pattern, endpoint string) (*Socket, error) {
	sock, err := newSocket(ctx, pattern)
	if err != nil {
		return nil, err
	}
	if err := sock.Listen(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("transport: bind %s %s: %w", pattern, endpoint, err)
	}
	return &Socket{sock: sock, pattern: pattern, endpoint: endpoint}, nil
}

// Dial connects a socket of the given pattern to endpoint. Subscribe sockets
// receive every topic.
func Dial(ctx context.Context, pattern Pattern, endpoint string) (*Socket, error) {
	sock, err := newSocket(ctx, pattern)
	if err != nil {
		return nil, err
	}
	if err := sock.Dial(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("transport: connect %s %s: %w", pattern, endpoint, err)
	}
	if pattern == Subscribe {
		if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			_ = sock.Close()
			return nil, fmt.Errorf("transport: subscribe: %w", err)
		}
	}
	return &Socket{sock: sock, pattern: pattern, endpoint: endpoint}, nil
}

// Recv blocks for the next message.
func (s *Socket) Recv() ([][]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

// Send writes one multi-frame message.
func (s *Socket) Send(frames [][]byte) error {
	return s.sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

// Close releases the socket and wakes a blocked Recv.
func (s *Socket) Close() error {
	return s.sock.Close()
}

// Endpoint is the address the socket was bound or connected to.
func (s *Socket) Endpoint() string {
	return s.endpoint
}

// Addr is the resolved local address, which differs from Endpoint when the
// socket was bound to port 0.
func (s *Socket) Addr() string {
	if a := s.sock.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Endpoint formats a ZeroMQ address. The ipc transport names a file:
// ip-port.
func Endpoint(transport, ip string, port int) string {
	if strings.EqualFold(transport, "ipc") {
		return fmt.Sprintf("ipc://%s-%d", ip, port)
	}
	return fmt.Sprintf("%s://%s:%d", transport, ip, port)
}

// Ports are the four kernel ports from a connection file.
type Ports struct {
	Heartbeat int
	Shell     int
	IOPub     int
	Control   int
}

// Bind binds every kernel socket. On failure the sockets bound so far are
// closed.
func Bind(ctx context.Context, transport, ip string, ports Ports) (kernel.Sockets, error) {
	specs := []struct {
		pattern Pattern
		port    int
		dst     *kernel.Socket
	}{
		{Reply, ports.Heartbeat, nil},
		{Router, ports.Shell, nil},
		{Publish, ports.IOPub, nil},
		{Router, ports.Control, nil},
	}

	var sockets kernel.Sockets
	specs[0].dst = &sockets.Heartbeat
	specs[1].dst = &sockets.Shell
	specs[2].dst = &sockets.IOPub
	specs[3].dst = &sockets.Control

	var bound []*Socket
	for _, spec := range specs {
		sock, err := Listen(ctx, spec.pattern, Endpoint(transport, ip, spec.port))
		if err != nil {
			errs := []error{err}
			for _, b := range bound {
				errs = append(errs, b.Close())
			}
			return kernel.Sockets{}, errors.Join(errs...)
		}
		bound = append(bound, sock)
		*spec.dst = sock
	}
	return sockets, nil
}
