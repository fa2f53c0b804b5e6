package region

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// FlashMagic marks a partition initialized by this package.
var FlashMagic = [12]byte{'C', 'U', 'S', 'T', 'O', 'M', '_', 'F', 'L', 'A', 'S', 'H'}

// FlashHeaderSize: Magic(12) + Size(4) + SectorSize(4)
const FlashHeaderSize = 20

const erasedByte = 0xFF

// FlashHeader lives at the start of the first sector of the partition.
// Size counts the whole used partition including the header sector.
type FlashHeader struct {
	Magic      [12]byte
	Size       uint32
	SectorSize uint32
}

func (h FlashHeader) Valid() bool { return h.Magic == FlashMagic }

// Capacity is the usable data length behind the header sector.
func (h FlashHeader) Capacity() int64 {
	return int64(h.Size) - int64(h.SectorSize)
}

func (h FlashHeader) encode() [FlashHeaderSize]byte {
	var buf [FlashHeaderSize]byte
	copy(buf[0:12], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[12:16], h.Size)
	binary.LittleEndian.PutUint32(buf[16:20], h.SectorSize)
	return buf
}

func decodeFlashHeader(buf []byte) FlashHeader {
	var h FlashHeader
	copy(h.Magic[:], buf[0:12])
	h.Size = binary.LittleEndian.Uint32(buf[12:16])
	h.SectorSize = binary.LittleEndian.Uint32(buf[16:20])
	return h
}

// TouchFlashHeader reads the header without modifying the partition.
func TouchFlashHeader(dev Region) (FlashHeader, error) {
	var buf [FlashHeaderSize]byte
	if _, err := dev.ReadAt(buf[:], 0); err != nil && err != io.EOF {
		return FlashHeader{}, fmt.Errorf("read flash header: %w", err)
	}
	h := decodeFlashHeader(buf[:])
	if !h.Valid() {
		return h, ErrInvalidHeader
	}
	return h, nil
}

// Flash is a raw partition whose first sector is reserved for a FlashHeader.
// All offsets are relative to the data area behind that sector.
type Flash struct {
	dev        Region
	size       int64 // header sector + data area
	sectorSize int64
	logger     *slog.Logger
}

// OpenFlash opens a partition on dev. If the header is invalid, or reset is
// requested, the partition is erased and a fresh header is written for a data
// area of at least size bytes.
func OpenFlash(dev Region, sectorSize, size int64, reset bool, logger *slog.Logger) (*Flash, error) {
	if size <= 0 || sectorSize <= 0 {
		return nil, fmt.Errorf("flash: invalid geometry size=%d sector=%d", size, sectorSize)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h, err := TouchFlashHeader(dev)
	if err != nil && err != ErrInvalidHeader {
		return nil, err
	}
	if !h.Valid() || reset {
		want := size + sectorSize
		total := Align(want, sectorSize)
		if total != want {
			logger.Warn("Flash size not sector aligned, rounding up", "requested", want, "sector_size", sectorSize, "aligned", total)
		}
		if !h.Valid() {
			logger.Warn("Flash header is invalid, resetting partition")
		}
		return resetFlash(dev, total, sectorSize, logger)
	}

	if int64(h.SectorSize) != sectorSize {
		logger.Warn("Flash sector size differs from header", "header", h.SectorSize, "configured", sectorSize)
	}
	logger.Info("Flash partition found", "size", h.Size, "sector_size", h.SectorSize)
	if int64(h.Size) > dev.Size() {
		return nil, fmt.Errorf("%w: header size %d exceeds device size %d", ErrOutOfBounds, h.Size, dev.Size())
	}
	return &Flash{dev: dev, size: int64(h.Size), sectorSize: int64(h.SectorSize), logger: logger}, nil
}

func resetFlash(dev Region, total, sectorSize int64, logger *slog.Logger) (*Flash, error) {
	if total%sectorSize != 0 {
		return nil, fmt.Errorf("%w: size %d, sector_size %d", ErrNotAligned, total, sectorSize)
	}
	if total > dev.Size() {
		return nil, fmt.Errorf("%w: partition needs %d bytes, device has %d", ErrOutOfBounds, total, dev.Size())
	}

	if err := Fill(dev, 0, total, erasedByte); err != nil {
		return nil, fmt.Errorf("erase partition: %w", err)
	}
	h := FlashHeader{Magic: FlashMagic, Size: uint32(total), SectorSize: uint32(sectorSize)}
	hb := h.encode()
	if _, err := dev.WriteAt(hb[:], 0); err != nil {
		return nil, fmt.Errorf("write flash header: %w", err)
	}
	if err := dev.Sync(); err != nil {
		return nil, err
	}
	logger.Info("Flash partition reset", "size", total, "sector_size", sectorSize)
	return &Flash{dev: dev, size: total, sectorSize: sectorSize, logger: logger}, nil
}

func (f *Flash) check(off, n int64) error {
	if off < 0 || n < 0 || f.sectorSize+off+n > f.size {
		return fmt.Errorf("%w: offset %d, len %d, flash size %d", ErrOutOfBounds, off, n, f.size)
	}
	return nil
}

func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if err := f.check(off, int64(len(p))); err != nil {
		return 0, err
	}
	return f.dev.ReadAt(p, off+f.sectorSize)
}

func (f *Flash) WriteAt(p []byte, off int64) (int, error) {
	if err := f.check(off, int64(len(p))); err != nil {
		return 0, err
	}
	return f.dev.WriteAt(p, off+f.sectorSize)
}

// Erase sets [off, off+n) to the erased state. Both ends must be sector aligned.
func (f *Flash) Erase(off, n int64) error {
	if off%f.sectorSize != 0 || n%f.sectorSize != 0 {
		return fmt.Errorf("%w: offset %d, len %d, sector_size %d", ErrNotAligned, off, n, f.sectorSize)
	}
	if err := f.check(off, n); err != nil {
		return err
	}
	return Fill(f.dev, off+f.sectorSize, n, erasedByte)
}

func (f *Flash) SectorSize() int64 { return f.sectorSize }

// Size is the data capacity behind the header sector.
func (f *Flash) Size() int64 { return f.size - f.sectorSize }

func (f *Flash) Header() FlashHeader {
	return FlashHeader{Magic: FlashMagic, Size: uint32(f.size), SectorSize: uint32(f.sectorSize)}
}

func (f *Flash) Sync() error  { return f.dev.Sync() }
func (f *Flash) Close() error { return f.dev.Close() }
