// Package pagemap translates userspace virtual ranges into physical
// page-frame numbers via /proc/self/pagemap.
//
// Each 8-byte pagemap entry describes one virtual page: the PFN occupies
// the low 55 bits, a 3-bit status field sits at bit 61, with the
// page-present flag in its top bit (bit 63).
package pagemap

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

const (
	// DefaultPath resolves pages of the calling process.
	DefaultPath = "/proc/self/pagemap"

	entrySize = 8

	pfnMask     = uint64(1)<<55 - 1
	statusShift = 61
	presentBit  = uint64(1) << (statusShift + 2)
)

// Entry is one raw pagemap record.
type Entry uint64

// PFN returns the physical page-frame number bits. Only meaningful while
// the page is present.
func (e Entry) PFN() uint64 {
	return uint64(e) & pfnMask
}

// Present reports whether the page was resident when the entry was read.
func (e Entry) Present() bool {
	return uint64(e)&presentBit != 0
}

// Resolver reads pagemap entries for one process.
type Resolver struct {
	f        *os.File
	pageSize int
}

// Open opens the pagemap pseudo-file at path. An empty path resolves the
// calling process. Requires CAP_SYS_ADMIN on hardened kernels.
func Open(path string) (*Resolver, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open pagemap")
	}
	return &Resolver{f: f, pageSize: os.Getpagesize()}, nil
}

func (r *Resolver) Close() error {
	return r.f.Close()
}

// PageSize returns the page size the resolver indexes by.
func (r *Resolver) PageSize() int {
	return r.pageSize
}

// Lookup returns the raw entry covering the page that contains addr.
func (r *Resolver) Lookup(addr uint64) (Entry, error) {
	var buf [entrySize]byte
	off := int64(addr/uint64(r.pageSize)) * entrySize
	n, err := r.f.ReadAt(buf[:], off)
	if err != nil {
		return 0, errors.Wrapf(err, "pagemap entry at %#x", addr)
	}
	if n != entrySize {
		return 0, errors.Errorf("short pagemap read at %#x: %d bytes", addr, n)
	}
	return Entry(binary.LittleEndian.Uint64(buf[:])), nil
}

// Resolve returns the ordered PFNs for the pages covering [addr, addr+length).
// The raw PFN bits are returned as stored; callers for whom presence is not
// already guaranteed (a freshly mapped and touched buffer) check Present on
// the entries themselves via Lookup.
func (r *Resolver) Resolve(addr, length uint64) ([]uint64, error) {
	if length == 0 {
		return nil, nil
	}
	ps := uint64(r.pageSize)
	npages := (length + ps - 1) / ps

	pfns := make([]uint64, 0, npages)
	for i := uint64(0); i < npages; i++ {
		e, err := r.Lookup(addr + i*ps)
		if err != nil {
			return nil, err
		}
		pfns = append(pfns, e.PFN())
	}
	return pfns, nil
}
