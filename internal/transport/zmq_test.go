package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		transport string
		ip        string
		port      int
		want      string
	}{
		{"tcp", "127.0.0.1", 5555, "tcp://127.0.0.1:5555"},
		{"tcp", "0.0.0.0", 0, "tcp://0.0.0.0:0"},
		{"ipc", "/tmp/kernel", 3, "ipc:///tmp/kernel-3"},
		{"IPC", "kernel", 1, "ipc://kernel-1"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Endpoint(tt.transport, tt.ip, tt.port))
		})
	}
}

func TestPattern_String(t *testing.T) {
	assert.Equal(t, "REP", Reply.String())
	assert.Equal(t, "ROUTER", Router.String())
	assert.Equal(t, "PUB", Publish.String())
	assert.Equal(t, "UNKNOWN", Pattern(99).String())
}

func TestListen_UnknownPattern(t *testing.T) {
	_, err := Listen(context.Background(), Pattern(99), "tcp://127.0.0.1:0")
	assert.Error(t, err)
}

func TestBind_UnknownTransport(t *testing.T) {
	_, err := Bind(context.Background(), "bogus", "127.0.0.1", Ports{})
	assert.Error(t, err)
}

func TestSocket_RequestReply(t *testing.T) {
	if testing.Short() {
		t.Skip("opens local TCP sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rep, err := Listen(ctx, Reply, "tcp://127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = rep.Close() }()
	require.NotEmpty(t, rep.Addr())
	assert.Equal(t, "tcp://127.0.0.1:0", rep.Endpoint())

	req, err := Dial(ctx, Request, "tcp://"+rep.Addr())
	require.NoError(t, err)
	defer func() { _ = req.Close() }()

	require.NoError(t, req.Send([][]byte{{0x01, 0x02}}))

	frames, err := rep.Recv()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x01, 0x02}}, frames)

	require.NoError(t, rep.Send(frames))
	frames, err = req.Recv()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x01, 0x02}}, frames)
}
