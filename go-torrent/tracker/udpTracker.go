package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/pkg/errors"
)

const (
	UDP_PROTOCOL_ID  int64 = 0x41727101980 // magic constant
	ACTION_CONNECT   int32 = 0
	ACTION_ANNOUNCE  int32 = 1
	ACTION_ERROR     int32 = 3
	MAX_DATAGRAM_LEN       = 2048
)

// BEP 0015 - UDP Tracker Protocol for BitTorrent
func (tr *tracker) queryUDPTracker(ctx context.Context, trackerURL string, event int) (*AnnounceResponse, error) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", u.Host)
	if err != nil {
		return nil, errors.Wrap(err, "dialing tracker")
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	conn.SetDeadline(time.Now().Add(REQUEST_TIMEOUT))

	connectionID, err := tr.connectUDP(conn)
	if err != nil {
		return nil, err
	}
	return tr.announceUDP(conn, event, connectionID)
}

// readUDP reads one datagram and checks its action and transaction id.
func readUDP(conn net.Conn, action, transactionID int32, minLength int) (*bytes.Reader, error) {
	data := make([]byte, MAX_DATAGRAM_LEN)
	n, err := conn.Read(data)
	if err != nil {
		return nil, errors.Wrap(err, "reading tracker response")
	}
	if n < 8 {
		return nil, errors.Errorf("tracker response of %d bytes", n)
	}
	resp := bytes.NewReader(data[:n])

	var actionResp, transactionIDResp int32
	binary.Read(resp, binary.BigEndian, &actionResp)
	binary.Read(resp, binary.BigEndian, &transactionIDResp)
	if transactionIDResp != transactionID {
		return nil, errors.New("transaction id doesn't match")
	}
	if actionResp == ACTION_ERROR {
		return nil, errors.Wrap(ErrTrackerFailure, string(data[8:n]))
	}
	if actionResp != action {
		return nil, errors.Errorf("unexpected action %d", actionResp)
	}
	if n < minLength {
		return nil, errors.Errorf("tracker response of %d bytes", n)
	}
	return resp, nil
}

func (tr *tracker) connectUDP(conn net.Conn) (int64, error) {
	connectRequest := &bytes.Buffer{}
	binary.Write(connectRequest, binary.BigEndian, UDP_PROTOCOL_ID)
	binary.Write(connectRequest, binary.BigEndian, ACTION_CONNECT)
	transactionID := rand.Int31()
	binary.Write(connectRequest, binary.BigEndian, transactionID)
	if _, err := conn.Write(connectRequest.Bytes()); err != nil {
		return 0, errors.Wrap(err, "connecting to tracker")
	}

	resp, err := readUDP(conn, ACTION_CONNECT, transactionID, 16)
	if err != nil {
		return 0, err
	}
	var connectionID int64
	binary.Read(resp, binary.BigEndian, &connectionID)
	return connectionID, nil
}

func (tr *tracker) announceUDP(conn net.Conn, event int, connectionID int64) (*AnnounceResponse, error) {
	announceRequest := &bytes.Buffer{}
	binary.Write(announceRequest, binary.BigEndian, connectionID)
	binary.Write(announceRequest, binary.BigEndian, ACTION_ANNOUNCE)
	transactionID := rand.Int31()
	binary.Write(announceRequest, binary.BigEndian, transactionID)
	binary.Write(announceRequest, binary.BigEndian, tr.torrent.InfoHash)
	binary.Write(announceRequest, binary.BigEndian, torrent.PEER_ID)
	uploaded, downloaded := tr.stats.GetTrackerStats()
	binary.Write(announceRequest, binary.BigEndian, int64(downloaded))
	binary.Write(announceRequest, binary.BigEndian, int64(tr.pieceMgr.Left()))
	binary.Write(announceRequest, binary.BigEndian, int64(uploaded))
	binary.Write(announceRequest, binary.BigEndian, int32(event))
	binary.Write(announceRequest, binary.BigEndian, uint32(0)) // default ip
	binary.Write(announceRequest, binary.BigEndian, tr.key)
	binary.Write(announceRequest, binary.BigEndian, int32(NUMWANT))
	binary.Write(announceRequest, binary.BigEndian, uint16(tr.port))
	if _, err := conn.Write(announceRequest.Bytes()); err != nil {
		return nil, errors.Wrap(err, "announcing")
	}

	resp, err := readUDP(conn, ACTION_ANNOUNCE, transactionID, 20)
	if err != nil {
		return nil, err
	}
	var interval, leechers, seeders int32
	binary.Read(resp, binary.BigEndian, &interval)
	binary.Read(resp, binary.BigEndian, &leechers)
	binary.Read(resp, binary.BigEndian, &seeders)
	announceResp := &AnnounceResponse{
		Interval: time.Duration(interval) * time.Second,
		Leechers: int(leechers),
		Seeders:  int(seeders),
	}

	peerAddr := make([]byte, 6)
	for resp.Len() >= 6 {
		resp.Read(peerAddr)
		ip := net.IPv4(peerAddr[0], peerAddr[1], peerAddr[2], peerAddr[3])
		port := binary.BigEndian.Uint16(peerAddr[4:6])
		announceResp.Peers = append(announceResp.Peers, net.JoinHostPort(ip.String(), strconv.Itoa(int(port))))
	}
	return announceResp, nil
}
