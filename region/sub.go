package region

// Sub is a window [off, off+n) onto a parent region. Closing a Sub does not
// close the parent.
type Sub struct {
	parent Region
	off    int64
	n      int64
}

// NewSub returns a window onto parent. The window must fit inside the parent.
func NewSub(parent Region, off, n int64) (*Sub, error) {
	if err := checkBounds(off, n, parent.Size()); err != nil {
		return nil, err
	}
	return &Sub{parent: parent, off: off, n: n}, nil
}

func (s *Sub) ReadAt(p []byte, off int64) (int, error) {
	if err := checkBounds(off, int64(len(p)), s.n); err != nil {
		return 0, err
	}
	return s.parent.ReadAt(p, s.off+off)
}

func (s *Sub) WriteAt(p []byte, off int64) (int, error) {
	if err := checkBounds(off, int64(len(p)), s.n); err != nil {
		return 0, err
	}
	return s.parent.WriteAt(p, s.off+off)
}

func (s *Sub) Size() int64  { return s.n }
func (s *Sub) Sync() error  { return s.parent.Sync() }
func (s *Sub) Close() error { return nil }

// SectorSize is non-zero only when the parent erases in sectors and the window
// starts on a sector boundary.
func (s *Sub) SectorSize() int64 {
	e, ok := s.parent.(Eraser)
	if !ok {
		return 0
	}
	sz := e.SectorSize()
	if sz <= 0 || s.off%sz != 0 {
		return 0
	}
	return sz
}

func (s *Sub) Erase(off, n int64) error {
	e, ok := s.parent.(Eraser)
	if !ok || s.SectorSize() == 0 {
		return ErrNotAligned
	}
	if err := checkBounds(off, n, s.n); err != nil {
		return err
	}
	return e.Erase(s.off+off, n)
}
