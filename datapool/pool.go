// Package datapool provides one contiguous byte region, optionally file-
// or device-backed, with a small header carrying a signature, version,
// size, flags, and user-defined bytes (spec.md §2 "Datapool", §6).
//
// Grounded on block/local_storage_cache.go's file-backed-region idiom,
// using real github.com/edsrzf/mmap-go and github.com/gofrs/flock instead
// of hand-rolled syscalls.
package datapool

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Options configures Open.
type Options struct {
	// Path, if non-empty, backs the pool with a file at this path
	// (created if missing) and memory-maps it. Empty means an anonymous
	// in-process byte slice — exercised by tests and by callers who
	// accepted the "persistence beyond best-effort warm restart" non-goal
	// entirely.
	Path string

	// Name is the up-to-128-byte user signature stored in the header,
	// distinct from the pool's own magic signature; callers use it to
	// recognize *their* datapool among several sharing a convention.
	Name string

	// UserData is up to 256 opaque bytes round-tripped through the
	// header.
	UserData []byte

	// Size is the total region size in bytes, header included.
	Size uint64

	// Prefault touches every page on open.
	Prefault bool
}

// Pool is one contiguous byte region: a header followed by payload.
type Pool struct {
	opts Options

	file  *os.File
	lock  *flock.Flock
	mmap  mmap.MMap
	bytes []byte // backing storage when Path == ""

	payload []byte
	fresh   bool // true if the header did not match on open (pool was zeroed)
}

// Open opens or creates the datapool described by opts.
func Open(opts Options) (*Pool, error) {
	if opts.Size < uint64(HeaderSize) {
		return nil, errors.Errorf("datapool size %d smaller than header size %d", opts.Size, HeaderSize)
	}
	if len(opts.Name) > userSignatureSize {
		return nil, errors.Errorf("datapool name %q exceeds %d bytes", opts.Name, userSignatureSize)
	}
	if len(opts.UserData) > userDataSize {
		return nil, errors.Errorf("datapool user data exceeds %d bytes", userDataSize)
	}

	p := &Pool{opts: opts}

	if opts.Path == "" {
		p.bytes = make([]byte, opts.Size)
	} else if err := p.openFile(); err != nil {
		return nil, err
	}

	region := p.region()

	h, ok := readHeader(region)
	if !ok || h.totalSize != opts.Size {
		// Signature/version mismatch (or size changed): treat as fresh
		// and zero, per spec.md §6.
		for i := range region {
			region[i] = 0
		}
		h = header{totalSize: opts.Size}
		copy(h.userSignature[:], opts.Name)
		copy(h.userData[:], opts.UserData)
		p.fresh = true
	}

	h.flags |= FlagDirty
	writeHeader(region, h)

	p.payload = region[HeaderSize:]

	if opts.Prefault {
		p.Prefault()
	}

	return p, nil
}

func (p *Pool) openFile() error {
	f, err := os.OpenFile(p.opts.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return errors.Wrap(err, "opening datapool file")
	}
	p.file = f

	lk := flock.New(p.opts.Path + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		f.Close()
		return errors.Wrap(err, "locking datapool file")
	}
	if !locked {
		f.Close()
		return errors.New("datapool file is already locked by another process")
	}
	p.lock = lk

	if fi, err := f.Stat(); err != nil {
		p.teardownFailed()
		return errors.Wrap(err, "statting datapool file")
	} else if uint64(fi.Size()) != p.opts.Size {
		if err := f.Truncate(int64(p.opts.Size)); err != nil {
			p.teardownFailed()
			return errors.Wrap(err, "resizing datapool file")
		}
	}

	m, err := mmap.MapRegion(f, int(p.opts.Size), mmap.RDWR, 0, 0)
	if err != nil {
		p.teardownFailed()
		return errors.Wrap(err, "mapping datapool file")
	}
	p.mmap = m

	return nil
}

func (p *Pool) teardownFailed() {
	if p.lock != nil {
		p.lock.Unlock() //nolint:errcheck
	}
	if p.file != nil {
		p.file.Close()
	}
}

func (p *Pool) region() []byte {
	if p.mmap != nil {
		return p.mmap
	}
	return p.bytes
}

// Base returns the payload region, following the header.
func (p *Pool) Base() []byte { return p.payload }

// Len returns the payload length in bytes (total size minus header).
func (p *Pool) Len() int { return len(p.payload) }

// Fresh reports whether Open found no valid existing header and zeroed
// the region.
func (p *Pool) Fresh() bool { return p.fresh }

// Prefault touches every page of the region so first-access latency is
// not paid on the hot path.
func (p *Pool) Prefault() {
	region := p.region()
	const pageSize = 4096
	for i := 0; i < len(region); i += pageSize {
		region[i] = region[i]
	}
}

// UserData returns the current opaque user bytes stored in the header.
func (p *Pool) UserData() []byte {
	h, _ := readHeader(p.region())
	return trimTrailingZero(h.userData[:])
}

// SetUserData updates the opaque user bytes; synced to the header on
// Close.
func (p *Pool) SetUserData(b []byte) error {
	if len(b) > userDataSize {
		return errors.Errorf("user data exceeds %d bytes", userDataSize)
	}
	region := p.region()
	h, _ := readHeader(region)
	var buf [userDataSize]byte
	copy(buf[:], b)
	h.userData = buf
	writeHeader(region, h)
	return nil
}

// Close performs best-effort teardown flush: clears the dirty bit, syncs
// the header, and releases the backing file if any (spec.md §6 "On clean
// teardown, the dirty bit is cleared and the user data is synced").
func (p *Pool) Close() error {
	region := p.region()
	h, ok := readHeader(region)
	if ok {
		h.flags &^= FlagDirty
		writeHeader(region, h)
	}

	if p.mmap == nil {
		return nil
	}

	var firstErr error
	if err := p.mmap.Flush(); err != nil {
		firstErr = err
	}
	if err := p.mmap.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func trimTrailingZero(b []byte) []byte {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return b[:n]
}
