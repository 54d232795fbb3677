package stats

import (
	"sync"
	"time"

	underscore "github.com/ahl5esoft/golang-underscore"
	log "github.com/sirupsen/logrus"
)

// Stats tracks per-peer throughput. Upload is what we send to a peer,
// download is what a peer sends us.
type Stats interface {
	UpdatePeer(id string, uploaded int, downloaded int)
	Tick(id string)
	ResetPeerUpload(id string)
	ZeroPeer(id string)
	RemovePeer(id string)
	GetPeerStats() (peerStats map[string]PeerStat)
	GetTrackerStats() (uploaded int, downloaded int)
	GetClientStats() (uploadRate int, downloadRate int)
}

const (
	PONDERATION_TIME = 10
)

var (
	BUCKET_DURATION = time.Second
	now             = time.Now
)

type stats struct {
	sync.Mutex

	trackerStats *TrackerStats
	clientStats  *activity
	peerStats    map[string]*peerStat
}

type TrackerStats struct {
	TotalUpload   int
	TotalDownload int
}

// PeerStat rates are in bytes per second over the last PONDERATION_TIME
// buckets.
type PeerStat struct {
	UploadRate   int
	DownloadRate int
}

type peerStat struct {
	PeerStat
	*activity
}

// activity holds the bytes moved per bucket; bucket i started at start.
type activity struct {
	uploadActivity   [PONDERATION_TIME]int
	downloadActivity [PONDERATION_TIME]int
	i                int
	start            time.Time
}

func newActivity(t time.Time) *activity {
	return &activity{start: t}
}

// advance moves to the bucket holding t, clearing the buckets it passes.
func (a *activity) advance(t time.Time) {
	steps := int(t.Sub(a.start) / BUCKET_DURATION)
	if steps <= 0 {
		return
	}
	a.start = a.start.Add(time.Duration(steps) * BUCKET_DURATION)
	if steps >= PONDERATION_TIME {
		a.uploadActivity = [PONDERATION_TIME]int{}
		a.downloadActivity = [PONDERATION_TIME]int{}
		return
	}
	for ; steps > 0; steps-- {
		a.i = (a.i + 1) % PONDERATION_TIME
		a.uploadActivity[a.i] = 0
		a.downloadActivity[a.i] = 0
	}
}

func (a *activity) add(uploaded int, downloaded int) {
	a.uploadActivity[a.i] += uploaded
	a.downloadActivity[a.i] += downloaded
}

func sumReduce(acc int, x, _ int) int {
	return acc + x
}

func windowRate(window [PONDERATION_TIME]int) int {
	sum := 0
	underscore.Chain2(window).Reduce(0, sumReduce).Value(&sum)
	return int(int64(sum) * int64(time.Second) / int64(PONDERATION_TIME*BUCKET_DURATION))
}

func (a *activity) rates() PeerStat {
	return PeerStat{
		UploadRate:   windowRate(a.uploadActivity),
		DownloadRate: windowRate(a.downloadActivity),
	}
}

func NewStats(uploaded int, downloaded int) Stats {
	return &stats{
		trackerStats: &TrackerStats{
			TotalUpload:   uploaded,
			TotalDownload: downloaded,
		},
		clientStats: newActivity(now()),
		peerStats:   make(map[string]*peerStat),
	}
}

func (s *stats) get(id string) *peerStat {
	ps, ok := s.peerStats[id]
	if !ok {
		ps = &peerStat{activity: newActivity(now())}
		s.peerStats[id] = ps
	}
	return ps
}

func (s *stats) UpdatePeer(id string, uploaded int, downloaded int) {
	s.Lock()
	defer s.Unlock()

	t := now()
	ps := s.get(id)
	ps.advance(t)
	ps.add(uploaded, downloaded)
	s.clientStats.advance(t)
	s.clientStats.add(uploaded, downloaded)
	s.trackerStats.TotalUpload += uploaded
	s.trackerStats.TotalDownload += downloaded
}

// Tick rolls the peer's window forward and recomputes its rates.
func (s *stats) Tick(id string) {
	s.Lock()
	defer s.Unlock()

	ps := s.get(id)
	ps.advance(now())
	ps.PeerStat = ps.rates()
}

func (s *stats) ResetPeerUpload(id string) {
	s.Lock()
	defer s.Unlock()

	ps := s.get(id)
	ps.uploadActivity = [PONDERATION_TIME]int{}
	ps.UploadRate = 0
}

func (s *stats) ZeroPeer(id string) {
	s.Lock()
	defer s.Unlock()

	ps := s.get(id)
	ps.uploadActivity = [PONDERATION_TIME]int{}
	ps.downloadActivity = [PONDERATION_TIME]int{}
	ps.PeerStat = PeerStat{}
}

func (s *stats) RemovePeer(id string) {
	s.Lock()
	defer s.Unlock()

	delete(s.peerStats, id)
}

func (s *stats) GetPeerStats() map[string]PeerStat {
	s.Lock()
	defer s.Unlock()

	t := now()
	peerStats := make(map[string]PeerStat, len(s.peerStats))
	for id, ps := range s.peerStats {
		ps.advance(t)
		ps.PeerStat = ps.rates()
		peerStats[id] = ps.PeerStat
	}
	return peerStats
}

func (s *stats) GetTrackerStats() (int, int) {
	s.Lock()
	defer s.Unlock()

	return s.trackerStats.TotalUpload, s.trackerStats.TotalDownload
}

func (s *stats) GetClientStats() (int, int) {
	s.Lock()
	defer s.Unlock()

	s.clientStats.advance(now())
	rates := s.clientStats.rates()
	log.WithFields(log.Fields{
		"upload":   rates.UploadRate,
		"download": rates.DownloadRate,
	}).Debug("Client throughput")
	return rates.UploadRate, rates.DownloadRate
}
