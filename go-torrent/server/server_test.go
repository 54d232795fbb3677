package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Charana123/swarm/go-torrent/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockListener struct {
	net.Listener
	mock.Mock
}

func (m *mockListener) Addr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

type mockPM struct {
	peer.PeerManager
	mock.Mock
}

func (pm *mockPM) AddPeer(id string, conn net.Conn) {
	pm.Called(id, conn)
}

func withListen(t *testing.T, fn func(network, address string) (net.Listener, error)) {
	original := listen
	listen = fn
	t.Cleanup(func() { listen = original })
}

func TestPortScan(t *testing.T) {
	var tried []string
	ml := &mockListener{}
	ml.On("Addr").Return(&net.TCPAddr{Port: 6883})
	withListen(t, func(network, address string) (net.Listener, error) {
		tried = append(tried, address)
		if address == ":6883" {
			return ml, nil
		}
		return nil, errors.New("address already in use")
	})

	sv, err := NewServer(&mockPM{}, PORT_MIN, PORT_MAX)
	require.NoError(t, err)
	assert.Equal(t, 6883, sv.GetServerPort())
	assert.Equal(t, []string{":6881", ":6882", ":6883"}, tried)
}

func TestNoBindablePort(t *testing.T) {
	withListen(t, func(network, address string) (net.Listener, error) {
		return nil, errors.New("address already in use")
	})

	_, err := NewServer(&mockPM{}, PORT_MIN, PORT_MAX)
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	var l net.Listener
	withListen(t, func(network, address string) (net.Listener, error) {
		var err error
		l, err = net.Listen("tcp4", "127.0.0.1:0")
		return l, err
	})

	added := make(chan string, 1)
	pm := &mockPM{}
	pm.On("AddPeer", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(net.Conn).Close()
		added <- args.String(0)
	}).Return()

	sv, err := NewServer(pm, PORT_MIN, PORT_MAX)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- sv.Serve(ctx)
	}()

	conn, err := net.Dial("tcp4", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	select {
	case id := <-added:
		assert.Equal(t, conn.LocalAddr().String(), id)
	case <-time.After(5 * time.Second):
		t.Fatal("connection not handed to the peer manager")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	pm.AssertExpectations(t)
}
