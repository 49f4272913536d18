package item_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/item"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := item.Header{KeyLen: 10, ValueLen: 1000, OptionLen: 4, IntegerInPlace: true, Tombstone: false}
	buf := make([]byte, item.HeaderSize)
	item.Encode(buf, h)

	got := item.Decode(buf)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroHeaderIsEndMarker(t *testing.T) {
	var h item.Header
	require.True(t, h.IsZero())

	buf := make([]byte, item.HeaderSize)
	require.True(t, item.Decode(buf).IsZero())
}

func TestSizeRoundsUpTo8(t *testing.T) {
	h := item.Header{KeyLen: 3, ValueLen: 1, OptionLen: 0}
	require.Equal(t, 0, h.Size()%8)
	require.GreaterOrEqual(t, h.Size(), item.HeaderSize+3+1)
}

func TestSizeReservesIntegerArea(t *testing.T) {
	withInt := item.Header{KeyLen: 1, ValueLen: 1, IntegerInPlace: true}
	without := item.Header{KeyLen: 1, ValueLen: 1, IntegerInPlace: false}
	require.Greater(t, withInt.Size(), without.Size())
}

func TestPutAndAccessors(t *testing.T) {
	h := item.Header{KeyLen: 3, ValueLen: 5, OptionLen: 2}
	buf := make([]byte, h.Size())

	n := item.Put(buf, h, []byte("op"), []byte("key"), []byte("value"))
	require.Equal(t, h.Size(), n)
	require.Equal(t, []byte("op"), item.Option(buf, h))
	require.Equal(t, []byte("key"), item.Key(buf, h))
	require.Equal(t, []byte("value"), item.Value(buf, h))
}

func TestSetTombstone(t *testing.T) {
	h := item.Header{KeyLen: 1, ValueLen: 1}
	buf := make([]byte, h.Size())
	item.Put(buf, h, nil, []byte("k"), []byte("v"))

	require.False(t, item.Decode(buf).Tombstone)
	item.SetTombstone(buf)
	require.True(t, item.Decode(buf).Tombstone)
}

func TestScanStopsAtEndMarker(t *testing.T) {
	buf := make([]byte, 256)
	h1 := item.Header{KeyLen: 2, ValueLen: 2}
	off := item.Put(buf, h1, nil, []byte("k1"), []byte("v1"))
	h2 := item.Header{KeyLen: 2, ValueLen: 2}
	off += item.Put(buf[off:], h2, nil, []byte("k2"), []byte("v2"))
	item.ZeroTail(buf, off)

	var keys []string
	item.Scan(buf, func(h item.Header, offset int, encoded []byte) bool {
		keys = append(keys, string(item.Key(encoded, h)))
		return true
	})

	require.Equal(t, []string{"k1", "k2"}, keys)
}

func TestValidate(t *testing.T) {
	require.NoError(t, item.Validate(1, 0, 0))
	require.Error(t, item.Validate(0, 0, 0))
	require.Error(t, item.Validate(1, item.MaxValueLen+1, 0))
	require.Error(t, item.Validate(1, 0, item.MaxOptionLen+1))
}

func TestReadWriteIntInPlace(t *testing.T) {
	h := item.Header{KeyLen: 1, ValueLen: 1, IntegerInPlace: true}
	buf := make([]byte, h.Size())
	item.Put(buf, h, nil, []byte("k"), []byte("5"))

	require.NoError(t, item.WriteInt(buf, h, 42))
	v, err := item.ReadInt(buf, h)
	require.NoError(t, err)
	require.EqualValues(t, 42, v)
}

func TestReadIntParsesAsciiWhenNotInPlace(t *testing.T) {
	h := item.Header{KeyLen: 1, ValueLen: 2}
	buf := make([]byte, h.Size())
	item.Put(buf, h, nil, []byte("k"), []byte("42"))

	v, err := item.ReadInt(buf, h)
	require.NoError(t, err)
	require.EqualValues(t, 42, v)
}

func TestReadIntErrorsOnNonNumeric(t *testing.T) {
	h := item.Header{KeyLen: 1, ValueLen: 3}
	buf := make([]byte, h.Size())
	item.Put(buf, h, nil, []byte("k"), []byte("abc"))

	_, err := item.ReadInt(buf, h)
	require.ErrorIs(t, err, item.ErrNotANumber)
}
