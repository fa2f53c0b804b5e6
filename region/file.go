package region

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

const fileMode = 0o644

// File is a Region backed by a regular file. The file is locked exclusively
// for the lifetime of the handle; a second writer fails with ErrLocked.
type File struct {
	f        *os.File
	readOnly bool
}

// OpenFile opens (creating if needed) path for read/write.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return nil, err
	}
	if err := tryLockExclusive(f); err != nil {
		f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// OpenFileReadOnly opens an existing file without taking the lock. Writes fail
// with ErrReadOnly.
func OpenFileReadOnly(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{f: f, readOnly: true}, nil
}

func (r *File) Name() string { return r.f.Name() }

func (r *File) ReadAt(p []byte, off int64) (int, error) {
	return r.f.ReadAt(p, off)
}

func (r *File) WriteAt(p []byte, off int64) (int, error) {
	if r.readOnly {
		return 0, ErrReadOnly
	}
	return r.f.WriteAt(p, off)
}

// Size reports the file length. Block devices report their length through
// seeking, not Stat.
func (r *File) Size() int64 {
	info, err := r.f.Stat()
	if err != nil {
		return -1
	}
	if info.Mode()&os.ModeDevice != 0 {
		n, err := r.f.Seek(0, io.SeekEnd)
		if err != nil {
			return -1
		}
		return n
	}
	return info.Size()
}

// Regular reports whether the handle refers to a regular file.
func (r *File) Regular() bool {
	info, err := r.f.Stat()
	return err == nil && info.Mode().IsRegular()
}

func (r *File) Truncate(size int64) error {
	if r.readOnly {
		return ErrReadOnly
	}
	return r.f.Truncate(size)
}

// Sync flushes the file to stable storage, retrying interrupted calls.
func (r *File) Sync() error {
	if r.readOnly {
		return nil
	}
	for {
		err := r.f.Sync()
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return fmt.Errorf("fsync %s: %w", r.f.Name(), err)
	}
}

func (r *File) Close() error {
	if !r.readOnly {
		_ = unlockFile(r.f)
	}
	return r.f.Close()
}
