package download

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i%251 + 1)
	}
	return data
}

func writeTorrent(t *testing.T, fs afero.Fs, data []byte) *torrent.Torrent {
	tor, err := torrent.Create("file.bin", data, 16384, "")
	require.NoError(t, err)
	f, err := fs.Create("file.torrent")
	require.NoError(t, err)
	require.NoError(t, tor.Write(f))
	require.NoError(t, f.Close())
	return tor
}

func testConfig(fs afero.Fs, output string) Config {
	config := DefaultConfig()
	config.Fs = fs
	config.TorrentPath = "file.torrent"
	config.OutputPath = output
	config.PortMin, config.PortMax = 0, 0
	return config
}

func TestMissingTorrent(t *testing.T) {
	_, err := NewDownload(testConfig(afero.NewMemMapFs(), "out.bin"))
	assert.Error(t, err)
}

func TestResumeProgress(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := testData(16384 + 8000)
	writeTorrent(t, fs, data)

	partial := make([]byte, len(data))
	copy(partial, data[:16384])
	require.NoError(t, afero.WriteFile(fs, "out.bin", partial, 0644))

	d, err := NewDownload(testConfig(fs, "out.bin"))
	require.NoError(t, err)
	have, total := d.Progress()
	assert.Equal(t, 1, have)
	assert.Equal(t, 2, total)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}

func TestTransfer(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := testData(16384 + 8000)
	writeTorrent(t, fs, data)
	require.NoError(t, afero.WriteFile(fs, "seed.bin", data, 0644))

	seeder, err := NewDownload(testConfig(fs, "seed.bin"))
	require.NoError(t, err)
	select {
	case <-seeder.Completed():
	default:
		t.Fatal("seeder should start complete")
	}

	leechConfig := testConfig(fs, "leech.bin")
	leechConfig.Peers = []string{fmt.Sprintf("127.0.0.1:%d", seeder.GetServerPort())}
	leecher, err := NewDownload(leechConfig)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 2)
	go func() { done <- seeder.Run(ctx) }()
	go func() { done <- leecher.Run(ctx) }()

	select {
	case <-leecher.Completed():
	case <-time.After(10 * time.Second):
		t.Fatal("download did not complete")
	}
	_, downloadRate := leecher.Throughput()
	assert.Positive(t, downloadRate)
	uploadRate, _ := seeder.Throughput()
	assert.Positive(t, uploadRate)
	cancel()
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-done)
	}

	downloaded, err := afero.ReadFile(fs, "leech.bin")
	require.NoError(t, err)
	assert.Equal(t, data, downloaded)
}
