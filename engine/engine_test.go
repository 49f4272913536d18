package engine_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/engine"
)

func smallOptions() engine.Options {
	o := engine.DefaultOptions()
	o.SegmentSize = 4096
	o.HeapSize = 3 * 4096
	o.HashPower = 4
	return o
}

func TestEngine_ReserveInsertGetDeleteFlush(t *testing.T) {
	e, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)
	defer e.Teardown()

	key := []byte("k1")
	ri, err := e.Reserve(key, nil, []byte("v1"), 2, 0, false)
	require.NoError(t, err)
	e.Insert(ri)

	pin, err := e.Get(key, true)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), e.Value(pin))
	e.Release(pin)

	require.True(t, e.Delete(key))

	_, err = e.Get(key, false)
	require.ErrorIs(t, err, engine.ErrNotFound)

	e.Flush()
}

func TestEngine_ReserveRejectsOversizedValue(t *testing.T) {
	opts := smallOptions()
	e, err := engine.Setup(opts, nil)
	require.NoError(t, err)
	defer e.Teardown()

	big := make([]byte, int(opts.SegmentSize)*2)
	_, err = e.Reserve([]byte("k"), nil, big, len(big), 0, false)
	require.ErrorIs(t, err, engine.ErrOversized)
}

func TestEngine_SetupProhibitsConcurrentHandles(t *testing.T) {
	e1, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)

	_, err = engine.Setup(smallOptions(), nil)
	require.Error(t, err)

	require.NoError(t, e1.Teardown())

	e2, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, e2.Teardown())
}

func TestEngine_TeardownIsIdempotent(t *testing.T) {
	e, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)

	require.NoError(t, e.Teardown())
	require.NoError(t, e.Teardown())
}

func TestEngine_IncrDecrBinaryInPlace(t *testing.T) {
	e, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)
	defer e.Teardown()

	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], 5)

	key := []byte("counter")
	ri, err := e.Reserve(key, nil, seed[:], 8, 0, true)
	require.NoError(t, err)
	e.Insert(ri)

	pin, err := e.Get(key, false)
	require.NoError(t, err)
	defer e.Release(pin)

	next, err := e.Incr(pin, 3)
	require.NoError(t, err)
	require.Equal(t, int64(8), next)

	next, err = e.Decr(pin, 2)
	require.NoError(t, err)
	require.Equal(t, int64(6), next)
}

func TestEngine_IncrDecrASCIIFallback(t *testing.T) {
	e, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)
	defer e.Teardown()

	key := []byte("ascii-counter")
	ri, err := e.Reserve(key, nil, []byte("005"), 3, 0, false)
	require.NoError(t, err)
	e.Insert(ri)

	pin, err := e.Get(key, false)
	require.NoError(t, err)
	defer e.Release(pin)

	next, err := e.Incr(pin, 2)
	require.NoError(t, err)
	require.Equal(t, int64(7), next)
}

func TestEngine_IncrFailsOnNonNumericValue(t *testing.T) {
	e, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)
	defer e.Teardown()

	key := []byte("text")
	ri, err := e.Reserve(key, nil, []byte("abc"), 3, 0, false)
	require.NoError(t, err)
	e.Insert(ri)

	pin, err := e.Get(key, false)
	require.NoError(t, err)
	defer e.Release(pin)

	_, err = e.Incr(pin, 1)
	require.ErrorIs(t, err, engine.ErrNotANumber)
}

func TestEngine_Backfill(t *testing.T) {
	e, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)
	defer e.Teardown()

	key := []byte("chunked")
	ri, err := e.Reserve(key, nil, []byte("abc"), 10, 0, false)
	require.NoError(t, err)
	require.NoError(t, ri.Backfill(e, []byte("defghij")))
	e.Insert(ri)

	pin, err := e.Get(key, false)
	require.NoError(t, err)
	defer e.Release(pin)
	require.Equal(t, []byte("abcdefghij"), e.Value(pin))
}

func TestEngine_FlushReclaimsSegmentsLazily(t *testing.T) {
	e, err := engine.Setup(smallOptions(), nil)
	require.NoError(t, err)
	defer e.Teardown()

	key := []byte("soon-flushed")
	ri, err := e.Reserve(key, nil, []byte("v"), 1, 3600, false)
	require.NoError(t, err)
	e.Insert(ri)

	e.Flush()
	// A reap sweep (the background reaper, or a manual one) reclaims
	// anything created before the flush instant regardless of its TTL;
	// this test only checks Flush itself doesn't error or block, since
	// driving the reaper synchronously isn't exposed on Engine.
}
