package datapool_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/datapool"
)

func TestOpen_AnonymousFreshZeroed(t *testing.T) {
	p, err := datapool.Open(datapool.Options{Size: 4096, Name: "test"})
	require.NoError(t, err)
	defer p.Close()

	require.True(t, p.Fresh())
	require.Equal(t, 4096-datapool.HeaderSize, p.Len())
	for _, b := range p.Base() {
		require.Zero(t, b)
	}
}

func TestOpen_FileBackedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.dat")

	p1, err := datapool.Open(datapool.Options{Path: path, Size: 65536, Name: "n1"})
	require.NoError(t, err)
	require.True(t, p1.Fresh())
	copy(p1.Base(), []byte("hello"))
	require.NoError(t, p1.SetUserData([]byte("userdata")))
	require.NoError(t, p1.Close())

	p2, err := datapool.Open(datapool.Options{Path: path, Size: 65536, Name: "n1"})
	require.NoError(t, err)
	defer p2.Close()

	require.False(t, p2.Fresh())
	require.Equal(t, []byte("hello"), p2.Base()[:5])
	require.Equal(t, []byte("userdata"), p2.UserData())
}

func TestOpen_SizeMismatchTreatedAsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.dat")

	p1, err := datapool.Open(datapool.Options{Path: path, Size: 65536})
	require.NoError(t, err)
	copy(p1.Base(), []byte("data"))
	require.NoError(t, p1.Close())

	p2, err := datapool.Open(datapool.Options{Path: path, Size: 131072})
	require.NoError(t, err)
	defer p2.Close()

	require.True(t, p2.Fresh())
}

func TestOpen_SecondOpenOfSameFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.dat")

	p1, err := datapool.Open(datapool.Options{Path: path, Size: 65536})
	require.NoError(t, err)
	defer p1.Close()

	_, err = datapool.Open(datapool.Options{Path: path, Size: 65536})
	require.Error(t, err)
}

func TestOpen_RejectsOversizedName(t *testing.T) {
	_, err := datapool.Open(datapool.Options{Size: 4096, Name: string(make([]byte, 200))})
	require.Error(t, err)
}
