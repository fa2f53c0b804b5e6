// Package region provides the byte-addressable backing media for the record
// log: plain files, raw flash partitions and in-memory buffers, all behind one
// Region interface.
package region

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrOutOfBounds   = errors.New("region access out of bounds")
	ErrNotAligned    = errors.New("erase range not sector aligned")
	ErrInvalidHeader = errors.New("invalid flash header magic")
	ErrLocked        = errors.New("region is locked by another process")
	ErrReadOnly      = errors.New("region is read-only")
	ErrClosed        = errors.New("region closed")
)

// Region is a fixed-length byte-addressable medium.
type Region interface {
	io.ReaderAt
	io.WriterAt
	// Size reports the usable length in bytes.
	Size() int64
	// Sync blocks until previous writes are durable on the medium's own terms.
	Sync() error
	Close() error
}

// Eraser is implemented by media that erase in whole sectors (NOR flash).
type Eraser interface {
	Erase(off, n int64) error
	SectorSize() int64
}

// Resizer is implemented by media whose length can be changed (files).
type Resizer interface {
	Truncate(size int64) error
}

const fillChunk = 4096

// Fill writes n copies of b starting at off.
func Fill(r Region, off, n int64, b byte) error {
	chunk := make([]byte, min(n, fillChunk))
	for i := range chunk {
		chunk[i] = b
	}
	for n > 0 {
		w := min(n, int64(len(chunk)))
		if _, err := r.WriteAt(chunk[:w], off); err != nil {
			return err
		}
		off += w
		n -= w
	}
	return nil
}

// Clear resets [0, n) to its blank state: a sector erase when the medium
// supports it, zero-fill otherwise.
func Clear(r Region, n int64) error {
	if e, ok := r.(Eraser); ok && e.SectorSize() > 0 {
		span := Align(n, e.SectorSize())
		if span > r.Size() {
			span = r.Size() - r.Size()%e.SectorSize()
		}
		if err := e.Erase(0, span); err != nil {
			return fmt.Errorf("erase %d bytes: %w", span, err)
		}
		if span >= n {
			return nil
		}
		// The tail past the last whole sector cannot be erased; zero it instead.
		return Fill(r, span, n-span, 0)
	}
	return Fill(r, 0, n, 0)
}

// Align rounds val up to a multiple of align.
func Align(val, align int64) int64 {
	if align <= 0 {
		return val
	}
	if align&(align-1) == 0 {
		return (val + align - 1) &^ (align - 1)
	}
	return (val + align - 1) / align * align
}

func checkBounds(off, n, size int64) error {
	if off < 0 || n < 0 || off+n > size {
		return fmt.Errorf("%w: offset %d, len %d, size %d", ErrOutOfBounds, off, n, size)
	}
	return nil
}
