package server

import (
	"context"
	"fmt"
	"net"

	"github.com/Charana123/swarm/go-torrent/peer"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	PORT_MIN = 6881
	PORT_MAX = 6889
)

type Server interface {
	Serve(ctx context.Context) error
	GetServerPort() int
}

type server struct {
	port     int
	listener net.Listener
	pm       peer.PeerManager
}

var (
	listen = net.Listen
)

// NewServer binds the first free port in [portMin, portMax]. A range of
// [0, 0] lets the system pick.
func NewServer(
	pm peer.PeerManager,
	portMin, portMax int) (Server, error) {

	for port := portMin; port <= portMax; port++ {
		listener, err := listen("tcp4", fmt.Sprintf(":%d", port))
		if err != nil {
			log.WithError(err).WithField("port", port).Debug("Port unavailable")
			continue
		}
		port = listener.Addr().(*net.TCPAddr).Port
		log.WithField("port", port).Info("Listening for peers")
		return &server{
			port:     port,
			listener: listener,
			pm:       pm,
		}, nil
	}
	return nil, errors.Errorf("no bindable port in [%d, %d]", portMin, portMax)
}

// Serve hands every inbound connection to the peer manager until ctx ends.
func (sv *server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		sv.listener.Close()
	})
	defer stop()

	for {
		conn, err := sv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Safely terminating peer listener")
				return nil
			}
			return errors.Wrap(err, "accepting peer")
		}
		sv.pm.AddPeer(conn.RemoteAddr().String(), conn)
	}
}

func (sv *server) GetServerPort() int {
	return sv.port
}
