package storage

import (
	"bytes"
	"crypto/sha1"
	"os"
	"sync"

	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/boljen/go-bitmap"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Bytes at the head of every piece slot zeroed when the file is created,
// marking the slot as never written.
const SENTINEL_LENGTH = 4

type randomAccessStorage struct {
	sync.Mutex

	torrent *torrent.Torrent
	file    afero.File
}

// Open attaches to the backing file at path, creating it at the torrent's
// length when it does not yet exist.
func Open(fs afero.Fs, path string, t *torrent.Torrent) (Storage, error) {
	info, err := fs.Stat(path)
	created := os.IsNotExist(err)
	if err != nil && !created {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	file, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	s := &randomAccessStorage{
		torrent: t,
		file:    file,
	}

	if created || info.Size() != int64(t.Length) {
		if err := file.Truncate(int64(t.Length)); err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "truncate %s", path)
		}
	}
	if created {
		if err := s.writeSentinels(); err != nil {
			file.Close()
			return nil, err
		}
		log.WithFields(log.Fields{
			"path":   path,
			"length": t.Length,
		}).Info("Created backing file")
	}
	return s, nil
}

func (s *randomAccessStorage) writeSentinels() error {
	zeros := make([]byte, SENTINEL_LENGTH)
	for i := 0; i < s.torrent.NumPieces; i++ {
		n := SENTINEL_LENGTH
		if size := s.torrent.PieceSize(i); size < n {
			n = size
		}
		if _, err := s.file.WriteAt(zeros[:n], s.torrent.PieceOffset(i)); err != nil {
			return errors.Wrapf(err, "zeroing piece %d", i)
		}
	}
	return nil
}

func (s *randomAccessStorage) readAt(offset int64, length int) ([]byte, error) {
	data := make([]byte, length)
	s.Lock()
	n, err := s.file.ReadAt(data, offset)
	s.Unlock()
	if n == length {
		return data, nil
	}
	if err == nil {
		err = errors.New("short read")
	}
	return nil, errors.Wrapf(err, "reading %d bytes at %d", length, offset)
}

func (s *randomAccessStorage) checkIndex(pieceIndex int) error {
	if pieceIndex < 0 || pieceIndex >= s.torrent.NumPieces {
		return errors.Wrapf(ErrOutOfRange, "piece %d", pieceIndex)
	}
	return nil
}

// ScanExisting classifies every piece slot of an existing file. A slot whose
// leading bytes are all zero is missing without hashing it.
func (s *randomAccessStorage) ScanExisting() (bitmap.Bitmap, error) {
	clientBitfield := bitmap.New(s.torrent.NumPieces)
	zeros := make([]byte, SENTINEL_LENGTH)
	for i := 0; i < s.torrent.NumPieces; i++ {
		n := SENTINEL_LENGTH
		if size := s.torrent.PieceSize(i); size < n {
			n = size
		}
		head, err := s.readAt(s.torrent.PieceOffset(i), n)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(head, zeros[:n]) {
			continue
		}
		data, err := s.ReadPiece(i)
		if err != nil {
			return nil, err
		}
		if sha1.Sum(data) == s.torrent.PieceHash(i) {
			clientBitfield.Set(i, true)
		}
	}
	return clientBitfield, nil
}

func (s *randomAccessStorage) ReadPiece(pieceIndex int) ([]byte, error) {
	if err := s.checkIndex(pieceIndex); err != nil {
		return nil, err
	}
	return s.readAt(s.torrent.PieceOffset(pieceIndex), s.torrent.PieceSize(pieceIndex))
}

func (s *randomAccessStorage) ReadBlock(pieceIndex, begin, length int) ([]byte, error) {
	if err := s.checkIndex(pieceIndex); err != nil {
		return nil, err
	}
	if begin < 0 || length <= 0 || begin+length > s.torrent.PieceSize(pieceIndex) {
		return nil, errors.Wrapf(ErrOutOfRange, "piece %d begin %d length %d", pieceIndex, begin, length)
	}
	return s.readAt(s.torrent.PieceOffset(pieceIndex)+int64(begin), length)
}

func (s *randomAccessStorage) WritePiece(pieceIndex int, data []byte) error {
	if err := s.checkIndex(pieceIndex); err != nil {
		return err
	}
	if len(data) != s.torrent.PieceSize(pieceIndex) {
		return errors.Wrapf(ErrOutOfRange, "piece %d has %d bytes, got %d", pieceIndex, s.torrent.PieceSize(pieceIndex), len(data))
	}
	s.Lock()
	defer s.Unlock()
	if _, err := s.file.WriteAt(data, s.torrent.PieceOffset(pieceIndex)); err != nil {
		return errors.Wrapf(err, "writing piece %d", pieceIndex)
	}
	return nil
}

func (s *randomAccessStorage) Close() error {
	s.Lock()
	defer s.Unlock()
	return s.file.Close()
}
