package torrent

import (
	"bytes"
	"crypto/sha1"
	"io"

	"github.com/google/uuid"
	bencode "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
)

var (
	PEER_ID [20]byte
)

func init() {
	copy(PEER_ID[:8], []byte("-SW0001-"))
	id := uuid.New()
	copy(PEER_ID[8:], id[:12])
}

type Torrent struct {
	Length      int
	PieceLength int
	NumPieces   int
	MetaInfo    MetaInfo
	InfoHash    [20]byte
	PieceHashes [][20]byte
}

type MetaInfo struct {
	Info         Info       `bencode:"info"`
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	CreationDate int        `bencode:"creation date"`
	Comment      string     `bencode:"comment"`
	CreatedBy    string     `bencode:"created by"`
	Encoding     string     `bencode:"encoding"`
}

type Info struct {
	PieceLength int    `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Private     int    `bencode:"private"`
	Name        string `bencode:"name"`
	Length      int    `bencode:"length"`
	Md5sum      string `bencode:"md5sum"`
	Files       []File `bencode:"files"`
}

type File struct {
	Length int      `bencode:"length"`
	Md5sum string   `bencode:"md5sum"`
	Path   []string `bencode:"path"`
}

func NewTorrent(torrentReader io.ReadSeeker) (*Torrent, error) {
	metaInfo, err := bencode.Decode(torrentReader)
	if err != nil {
		return nil, errors.Wrap(err, "decoding torrent")
	}
	metaInfoMap, ok := metaInfo.(map[string]interface{})
	if !ok {
		return nil, errors.New("malformed torrent file")
	}
	infoMap, ok := metaInfoMap["info"]
	if !ok {
		return nil, errors.New("malformed torrent file: no info dictionary")
	}

	infoBencode := &bytes.Buffer{}
	if err := bencode.Marshal(infoBencode, infoMap); err != nil {
		return nil, errors.Wrap(err, "encoding info dictionary")
	}

	t := &Torrent{InfoHash: sha1.Sum(infoBencode.Bytes())}
	if _, err := torrentReader.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := bencode.Unmarshal(torrentReader, &t.MetaInfo); err != nil {
		return nil, errors.Wrap(err, "decoding metainfo")
	}
	if err := t.init(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Torrent) init() error {
	info := t.MetaInfo.Info
	if len(info.Files) > 0 {
		return errors.New("multi-file torrents are not supported")
	}
	if info.PieceLength <= 0 || info.Length <= 0 {
		return errors.Errorf("invalid lengths: piece length %d, length %d", info.PieceLength, info.Length)
	}
	if len(info.Pieces)%20 != 0 {
		return errors.Errorf("pieces field of %d bytes is not a multiple of 20", len(info.Pieces))
	}
	t.Length = info.Length
	t.PieceLength = info.PieceLength
	t.NumPieces = len(info.Pieces) / 20
	if want := (t.Length + t.PieceLength - 1) / t.PieceLength; want != t.NumPieces {
		return errors.Errorf("%d piece hashes for %d pieces", t.NumPieces, want)
	}
	t.PieceHashes = make([][20]byte, t.NumPieces)
	for i := range t.PieceHashes {
		copy(t.PieceHashes[i][:], info.Pieces[20*i:20*(i+1)])
	}
	return nil
}

// PieceSize is PieceLength for every piece but the last, which holds the
// remainder of the file.
func (t *Torrent) PieceSize(pieceIndex int) int {
	if pieceIndex == t.NumPieces-1 {
		if rem := t.Length % t.PieceLength; rem != 0 {
			return rem
		}
	}
	return t.PieceLength
}

func (t *Torrent) PieceOffset(pieceIndex int) int64 {
	return int64(pieceIndex) * int64(t.PieceLength)
}

func (t *Torrent) PieceHash(pieceIndex int) [20]byte {
	return t.PieceHashes[pieceIndex]
}
