package torrent

import (
	"bytes"
	"crypto/sha1"
	"io"

	bencode "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
)

// Create builds single-file metainfo for data.
func Create(name string, data []byte, pieceLength int, announce string) (*Torrent, error) {
	if pieceLength <= 0 || len(data) == 0 {
		return nil, errors.New("nothing to hash")
	}
	pieces := &bytes.Buffer{}
	for begin := 0; begin < len(data); begin += pieceLength {
		end := begin + pieceLength
		if end > len(data) {
			end = len(data)
		}
		sum := sha1.Sum(data[begin:end])
		pieces.Write(sum[:])
	}

	t := &Torrent{
		MetaInfo: MetaInfo{
			Announce: announce,
			Info: Info{
				Name:        name,
				Length:      len(data),
				PieceLength: pieceLength,
				Pieces:      pieces.String(),
			},
		},
	}
	infoBencode := &bytes.Buffer{}
	if err := bencode.Marshal(infoBencode, t.infoDict()); err != nil {
		return nil, err
	}
	t.InfoHash = sha1.Sum(infoBencode.Bytes())
	if err := t.init(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Torrent) infoDict() map[string]interface{} {
	return map[string]interface{}{
		"name":         t.MetaInfo.Info.Name,
		"length":       t.MetaInfo.Info.Length,
		"piece length": t.MetaInfo.Info.PieceLength,
		"pieces":       t.MetaInfo.Info.Pieces,
	}
}

// Write encodes the torrent as a .torrent file.
func (t *Torrent) Write(w io.Writer) error {
	return bencode.Marshal(w, map[string]interface{}{
		"announce": t.MetaInfo.Announce,
		"info":     t.infoDict(),
	})
}
