package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Charana123/swarm/go-torrent/torrent"
	bencode "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
)

var httpClient = &http.Client{Timeout: REQUEST_TIMEOUT}

type AnnounceResponse struct {
	Interval time.Duration
	Seeders  int
	Leechers int
	// Peers are "ip:port" addresses.
	Peers []string
}

func (tr *tracker) queryHTTPTracker(ctx context.Context, trackerURL string, event int) (*AnnounceResponse, error) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Set("info_hash", string(tr.torrent.InfoHash[:]))
	q.Set("peer_id", string(torrent.PEER_ID[:]))
	uploaded, downloaded := tr.stats.GetTrackerStats()
	q.Set("uploaded", strconv.Itoa(uploaded))
	q.Set("downloaded", strconv.Itoa(downloaded))
	q.Set("left", strconv.Itoa(tr.pieceMgr.Left()))
	q.Set("key", strconv.Itoa(int(tr.key)))
	if name, ok := eventNames[event]; ok {
		q.Set("event", name)
	}
	q.Set("numwant", strconv.Itoa(NUMWANT))
	q.Set("port", strconv.Itoa(tr.port))
	q.Set("compact", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "announcing")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("tracker answered %s", resp.Status)
	}

	body, err := bencode.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "decoding announce response")
	}
	return parseResponse(body)
}

func parseResponse(body interface{}) (*AnnounceResponse, error) {
	dict, ok := body.(map[string]interface{})
	if !ok {
		return nil, errors.New("announce response is not a dictionary")
	}
	if reason, ok := dict["failure reason"].(string); ok {
		return nil, errors.Wrap(ErrTrackerFailure, reason)
	}

	resp := &AnnounceResponse{}
	if interval, ok := dict["interval"].(int64); ok {
		resp.Interval = time.Duration(interval) * time.Second
	}
	if complete, ok := dict["complete"].(int64); ok {
		resp.Seeders = int(complete)
	}
	if incomplete, ok := dict["incomplete"].(int64); ok {
		resp.Leechers = int(incomplete)
	}

	switch peers := dict["peers"].(type) {
	case string:
		compact := []byte(peers)
		if len(compact)%6 != 0 {
			return nil, errors.Errorf("compact peers of %d bytes", len(compact))
		}
		for i := 0; i < len(compact); i += 6 {
			ip := net.IPv4(compact[i], compact[i+1], compact[i+2], compact[i+3])
			port := binary.BigEndian.Uint16(compact[i+4 : i+6])
			resp.Peers = append(resp.Peers, net.JoinHostPort(ip.String(), strconv.Itoa(int(port))))
		}
	case []interface{}:
		for _, p := range peers {
			peerDict, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			ip, _ := peerDict["ip"].(string)
			port, _ := peerDict["port"].(int64)
			if ip == "" || port <= 0 {
				continue
			}
			resp.Peers = append(resp.Peers, net.JoinHostPort(ip, fmt.Sprint(port)))
		}
	}
	return resp, nil
}
