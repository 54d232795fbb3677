package peer

import "time"

var (
	KEEP_ALIVE_INTERVAL = time.Minute
	IDLE_WAIT           = time.Second
	SHUTDOWN_GRACE      = 2 * time.Second
	PEER_TIMEOUT        = 2 * time.Minute
	DIAL_TIMEOUT        = 5 * time.Second
	CHOKE_INTERVAL      = 30 * time.Second
	MAX_REQUEST_LENGTH  = 32768
	MIN_UNCHOKED        = 3
	MAX_UNCHOKED        = 6
	MAX_PEERS           = 50
)

type Config struct {
	// Fewest unchoked peers before the choke pass may choke one.
	MinUnchoked int
	// Most peers unchoked at once.
	MaxUnchoked   int
	ChokeInterval time.Duration
	PeerTimeout   time.Duration
	DialTimeout   time.Duration
	MaxPeers      int
	// Ban a peer whose piece fails verification.
	BanOnHashFailure bool
	// Upload cap in bytes per second shared by every session, 0 for none.
	UploadLimit int
}

func DefaultConfig() Config {
	return Config{
		MinUnchoked:   MIN_UNCHOKED,
		MaxUnchoked:   MAX_UNCHOKED,
		ChokeInterval: CHOKE_INTERVAL,
		PeerTimeout:   PEER_TIMEOUT,
		DialTimeout:   DIAL_TIMEOUT,
		MaxPeers:      MAX_PEERS,
	}
}
