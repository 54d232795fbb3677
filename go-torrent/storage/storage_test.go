package storage

import (
	"testing"

	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPieceTorrent(t *testing.T) (*torrent.Torrent, []byte) {
	data := make([]byte, 16384+8000)
	for i := range data {
		data[i] = byte(i%251 + 1)
	}
	tor, err := torrent.Create("file.bin", data, 16384, "")
	require.NoError(t, err)
	return tor, data
}

func TestOpenCreatesZeroedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	tor, _ := twoPieceTorrent(t)

	s, err := Open(fs, "file.bin", tor)
	require.NoError(t, err)
	defer s.Close()

	info, err := fs.Stat("file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(tor.Length), info.Size())

	have, err := s.ScanExisting()
	require.NoError(t, err)
	assert.False(t, have.Get(0))
	assert.False(t, have.Get(1))
}

func TestResume(t *testing.T) {
	fs := afero.NewMemMapFs()
	tor, data := twoPieceTorrent(t)

	s, err := Open(fs, "file.bin", tor)
	require.NoError(t, err)
	require.NoError(t, s.WritePiece(0, data[:16384]))
	require.NoError(t, s.Close())

	s, err = Open(fs, "file.bin", tor)
	require.NoError(t, err)
	defer s.Close()
	have, err := s.ScanExisting()
	require.NoError(t, err)
	assert.True(t, have.Get(0))
	assert.False(t, have.Get(1))
}

func TestScanRejectsCorruptPiece(t *testing.T) {
	fs := afero.NewMemMapFs()
	tor, data := twoPieceTorrent(t)

	s, err := Open(fs, "file.bin", tor)
	require.NoError(t, err)
	defer s.Close()

	corrupt := append([]byte(nil), data[16384:]...)
	corrupt[100] ^= 0x01
	require.NoError(t, s.WritePiece(1, corrupt))

	have, err := s.ScanExisting()
	require.NoError(t, err)
	assert.False(t, have.Get(1))
}

func TestReadBlock(t *testing.T) {
	fs := afero.NewMemMapFs()
	tor, data := twoPieceTorrent(t)

	s, err := Open(fs, "file.bin", tor)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.WritePiece(1, data[16384:]))

	block, err := s.ReadBlock(1, 4000, 4000)
	require.NoError(t, err)
	assert.Equal(t, data[16384+4000:], block)

	piece, err := s.ReadPiece(1)
	require.NoError(t, err)
	assert.Equal(t, data[16384:], piece)
}

func TestOutOfRange(t *testing.T) {
	fs := afero.NewMemMapFs()
	tor, data := twoPieceTorrent(t)

	s, err := Open(fs, "file.bin", tor)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadBlock(1, 4000, 4001)
	assert.Equal(t, ErrOutOfRange, errors.Cause(err))
	_, err = s.ReadPiece(2)
	assert.Equal(t, ErrOutOfRange, errors.Cause(err))
	err = s.WritePiece(0, data[:100])
	assert.Equal(t, ErrOutOfRange, errors.Cause(err))
}
