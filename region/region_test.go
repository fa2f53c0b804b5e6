package region

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestAlign(t *testing.T) {
	cases := []struct {
		val, align, want int64
	}{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{10, 3, 12},
		{9, 3, 9},
		{7, 0, 7},
	}
	for _, c := range cases {
		if got := Align(c.val, c.align); got != c.want {
			t.Errorf("Align(%d, %d) = %d, want %d", c.val, c.align, got, c.want)
		}
	}
}

func TestFill_And_Clear(t *testing.T) {
	m := NewMem(10000)
	if err := Fill(m, 0, 10000, 0xAB); err != nil {
		t.Fatal(err)
	}
	for i, b := range m.Bytes() {
		if b != 0xAB {
			t.Fatalf("byte %d = %#x after Fill", i, b)
		}
	}

	if err := Clear(m, 5000); err != nil {
		t.Fatal(err)
	}
	data := m.Bytes()
	for i := 0; i < 5000; i++ {
		if data[i] != 0 {
			t.Fatalf("byte %d = %#x after Clear", i, data[i])
		}
	}
	if data[5000] != 0xAB {
		t.Errorf("Clear touched bytes past n")
	}
}

func TestMem_FaultsAndBounds(t *testing.T) {
	m := NewMem(32)
	if _, err := m.WriteAt(make([]byte, 8), 30); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds, got %v", err)
	}

	injected := errors.New("injected")
	m.WriteErr = injected
	if _, err := m.WriteAt([]byte{1}, 0); err != injected {
		t.Errorf("Expected injected write error, got %v", err)
	}
	m.WriteErr = nil

	m.SyncErr = injected
	if err := m.Sync(); err != injected {
		t.Errorf("Expected injected sync error, got %v", err)
	}
	m.SyncErr = nil

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadAt(make([]byte, 1), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	m.Reopen()
	if _, err := m.ReadAt(make([]byte, 1), 0); err != nil {
		t.Errorf("Read after Reopen failed: %v", err)
	}

	if err := m.Truncate(64); err != nil || m.Size() != 64 {
		t.Errorf("Truncate grow: size=%d err=%v", m.Size(), err)
	}
	if err := m.Truncate(16); err != nil || m.Size() != 16 {
		t.Errorf("Truncate shrink: size=%d err=%v", m.Size(), err)
	}
}

func TestSub_Window(t *testing.T) {
	m := NewMem(100)
	s, err := NewSub(m, 40, 20)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteAt([]byte("abc"), 2); err != nil {
		t.Fatal(err)
	}
	if got := m.Bytes()[42:45]; string(got) != "abc" {
		t.Errorf("Parent bytes = %q, want abc", got)
	}
	if _, err := s.WriteAt(make([]byte, 4), 18); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds past window, got %v", err)
	}
	if _, err := NewSub(m, 90, 20); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for oversized window, got %v", err)
	}
	if s.SectorSize() != 0 {
		t.Errorf("Mem parent should not report a sector size")
	}
}

func TestFile_LockAndReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.bin")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()

	if _, err := OpenFile(path); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked on second open, got %v", err)
	}

	if err := f.Truncate(64); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("hello"), 10); err != nil {
		t.Fatal(err)
	}
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	if f.Size() != 64 {
		t.Errorf("Size = %d, want 64", f.Size())
	}

	ro, err := OpenFileReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	buf := make([]byte, 5)
	if _, err := ro.ReadAt(buf, 10); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Errorf("Read %q, want hello", buf)
	}
	if _, err := ro.WriteAt(buf, 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
}

func TestFile_LockReleasedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.bin")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	f2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("Reopen after close failed: %v", err)
	}
	f2.Close()
}

func TestFlash_ResetOnInvalidHeader(t *testing.T) {
	dev := NewMem(4 * 4096)
	fl, err := OpenFlash(dev, 4096, 5000, false, nil)
	if err != nil {
		t.Fatalf("OpenFlash failed: %v", err)
	}

	// 5000 + one header sector rounds up to three sectors.
	if got := fl.Header().Size; got != 3*4096 {
		t.Errorf("Header size = %d, want %d", got, 3*4096)
	}
	if fl.Size() != 2*4096 {
		t.Errorf("Data size = %d, want %d", fl.Size(), 2*4096)
	}

	h, err := TouchFlashHeader(dev)
	if err != nil {
		t.Fatalf("TouchFlashHeader failed: %v", err)
	}
	if h.SectorSize != 4096 || h.Capacity() != 2*4096 {
		t.Errorf("Unexpected header %+v", h)
	}

	// Data area is erased.
	buf := make([]byte, 16)
	if _, err := fl.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xFF}, 16)) {
		t.Errorf("Data area not erased: %x", buf)
	}
}

func TestFlash_OffsetAndReopen(t *testing.T) {
	dev := NewMem(4 * 4096)
	fl, err := OpenFlash(dev, 4096, 4096, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fl.WriteAt([]byte("data"), 0); err != nil {
		t.Fatal(err)
	}
	if got := dev.Bytes()[4096:4100]; string(got) != "data" {
		t.Errorf("Write not offset by one sector: %q", got)
	}

	// Reopen without reset keeps the data; the requested size is ignored.
	fl2, err := OpenFlash(dev, 4096, 8192, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := fl2.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "data" {
		t.Errorf("Reopen lost data: %q", buf)
	}
	if fl2.Size() != 4096 {
		t.Errorf("Reopen size = %d, want 4096", fl2.Size())
	}

	// Reset erases.
	fl3, err := OpenFlash(dev, 4096, 8192, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fl3.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("Reset did not erase: %x", buf)
	}
	if fl3.Size() != 8192 {
		t.Errorf("Reset size = %d, want 8192", fl3.Size())
	}
}

func TestFlash_BoundsAndAlignment(t *testing.T) {
	dev := NewMem(3 * 4096)
	fl, err := OpenFlash(dev, 4096, 4096, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fl.WriteAt(make([]byte, 8), 4092); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds, got %v", err)
	}
	if _, err := fl.ReadAt(make([]byte, 1), -1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for negative offset, got %v", err)
	}
	if err := fl.Erase(100, 4096); !errors.Is(err, ErrNotAligned) {
		t.Errorf("Expected ErrNotAligned, got %v", err)
	}
	if err := fl.Erase(0, 8192); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for erase past end, got %v", err)
	}

	if _, err := OpenFlash(NewMem(4096), 4096, 4096, false, nil); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for undersized device, got %v", err)
	}
}

func TestClear_FlashSectorsThenZeroTail(t *testing.T) {
	dev := NewMem(4 * 4096)
	fl, err := OpenFlash(dev, 4096, 3*4096, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := NewSub(fl, 0, 4096+100)
	if err != nil {
		t.Fatal(err)
	}
	if recs.SectorSize() != 4096 {
		t.Fatalf("Sub at offset 0 should inherit sector size")
	}
	if err := Fill(recs, 0, recs.Size(), 0x11); err != nil {
		t.Fatal(err)
	}
	if err := Clear(recs, recs.Size()); err != nil {
		t.Fatal(err)
	}

	data := dev.Bytes()[4096:]
	if data[0] != 0xFF || data[4095] != 0xFF {
		t.Errorf("Whole sector not erased")
	}
	if data[4096] != 0 || data[4096+99] != 0 {
		t.Errorf("Tail past last sector not zeroed")
	}
}
