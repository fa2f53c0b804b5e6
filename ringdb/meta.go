package ringdb

import (
	"fmt"

	"sensorlog/protocol"
	"sensorlog/region"
)

// metaStore keeps two identical copies of the ring descriptor at offsets 0
// and MetaSize of its region.
type metaStore struct {
	r region.Region
}

// persist writes copy 0, syncs, then copy 1, syncs. A crash can tear at most
// one copy; the other still carries either the old or the new generation.
func (m metaStore) persist(s protocol.State) error {
	buf := protocol.EncodeState(s)
	for i := 0; i < protocol.MetaCopies; i++ {
		off := int64(i * protocol.MetaSize)
		if _, err := m.r.WriteAt(buf[:], off); err != nil {
			return fmt.Errorf("write metadata copy %d: %w", i, err)
		}
		if err := m.r.Sync(); err != nil {
			return fmt.Errorf("sync metadata copy %d: %w", i, err)
		}
	}
	return nil
}

// load returns the authoritative descriptor, or ok=false when neither copy is
// valid for capacity.
func (m metaStore) load(capacity int) (protocol.State, bool, error) {
	buf := make([]byte, protocol.MetaRegionSize)
	if _, err := m.r.ReadAt(buf, 0); err != nil {
		return protocol.State{}, false, fmt.Errorf("read metadata: %w", err)
	}
	s, ok := protocol.SelectState(buf[:protocol.MetaSize], buf[protocol.MetaSize:], capacity)
	return s, ok, nil
}

// copies returns both raw copies for inspection.
func (m metaStore) copies() ([2][]byte, error) {
	buf := make([]byte, protocol.MetaRegionSize)
	if _, err := m.r.ReadAt(buf, 0); err != nil {
		return [2][]byte{}, fmt.Errorf("read metadata: %w", err)
	}
	return [2][]byte{buf[:protocol.MetaSize], buf[protocol.MetaSize:]}, nil
}
