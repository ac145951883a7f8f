package kernel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starkernel/internal/wire"
)

var errSocketClosed = errors.New("socket closed")

// fakeSocket is an in-memory socket. Tests push into in and read from out.
type fakeSocket struct {
	in     chan [][]byte
	out    chan [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan [][]byte, 16),
		out:    make(chan [][]byte, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) Recv() ([][]byte, error) {
	select {
	case frames := <-s.in:
		return frames, nil
	case <-s.closed:
		return nil, errSocketClosed
	}
}

func (s *fakeSocket) Send(frames [][]byte) error {
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	cp := make([][]byte, len(frames))
	copy(cp, frames)
	s.out <- cp
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// next waits for the next message the code under test sent.
func (s *fakeSocket) next(t *testing.T) [][]byte {
	t.Helper()
	select {
	case frames := <-s.out:
		return frames
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// nextEnvelope waits for and parses the next message.
func (s *fakeSocket) nextEnvelope(t *testing.T) *wire.Envelope {
	t.Helper()
	env, err := wire.Parse(s.next(t))
	require.NoError(t, err)
	return env
}

// quiet asserts nothing was sent within a short window.
func (s *fakeSocket) quiet(t *testing.T) {
	t.Helper()
	select {
	case frames := <-s.out:
		t.Fatalf("unexpected message: %q", frames)
	case <-time.After(50 * time.Millisecond):
	}
}

// request builds the frames of a client request.
func request(t *testing.T, msgType string, content wire.Dict, identities ...string) [][]byte {
	t.Helper()
	env := &wire.Envelope{
		Header: wire.Dict{
			"msg_id":   "req-" + msgType,
			"msg_type": msgType,
			"session":  "client",
			"username": "tester",
		},
		ParentHeader: wire.Dict{},
		Metadata:     wire.Dict{"trace": "abc"},
		Content:      content,
	}
	for _, id := range identities {
		env.Identities = append(env.Identities, []byte(id))
	}
	frames, err := env.Serialize()
	require.NoError(t, err)
	return frames
}
