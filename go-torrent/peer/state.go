package peer

type connState struct {
	peerInterested   bool
	clientInterested bool
	peerChoking      bool
	clientChoking    bool
}

func newConnState() connState {
	return connState{
		peerChoking:   true,
		clientChoking: true,
	}
}

// PeerInfo is a snapshot of one session's flags.
type PeerInfo struct {
	ID               string
	Established      bool
	PeerInterested   bool
	ClientInterested bool
	PeerChoking      bool
	ClientChoking    bool
}

func (s connState) info(id string, established bool) PeerInfo {
	return PeerInfo{
		ID:               id,
		Established:      established,
		PeerInterested:   s.peerInterested,
		ClientInterested: s.clientInterested,
		PeerChoking:      s.peerChoking,
		ClientChoking:    s.clientChoking,
	}
}
