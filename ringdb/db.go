// Package ringdb is the durable ring-buffered record log. It stores
// fixed-size records in a record region and a pair of redundant descriptors
// in a metadata region, and converges to a consistent FIFO after an unclean
// shutdown.
package ringdb

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"sensorlog/protocol"
	"sensorlog/region"
	"sensorlog/ring"
)

// Engine is a fixed-capacity FIFO of sensor readings. All methods are safe
// for concurrent use; every mutation is durable before it returns.
type Engine struct {
	mu sync.Mutex

	data       region.Region
	meta       metaStore
	capacity   int
	regionSize int64
	logger     *slog.Logger

	allowClockRegression bool

	index      ring.Index
	generation uint32
	readiness  Readiness

	// dirty is set while a mutation that rewrites live slots is in flight.
	// It stays set when that mutation fails, and the next operation rebuilds
	// the index from the record region before serving anything.
	dirty bool

	stats      Stats
	lastReport RecoveryReport
}

// Open attaches an engine to a record region and a metadata region and runs
// recovery. On failure no engine is returned.
func Open(data, meta region.Region, opts Options) (*Engine, error) {
	if opts.Capacity == 0 {
		opts.Capacity = protocol.DefaultCapacity
	}
	if opts.Capacity < 0 || opts.Capacity > protocol.MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d out of range 1..%d", ErrInitialization, opts.Capacity, protocol.MaxCapacity)
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	e := &Engine{
		data:                 data,
		meta:                 metaStore{r: meta},
		capacity:             opts.Capacity,
		regionSize:           protocol.RecordRegionSize(opts.Capacity),
		logger:               opts.Logger,
		allowClockRegression: opts.AllowClockRegression,
		index:                ring.New(opts.Capacity),
		readiness:            StateOpening,
	}
	e.stats.Capacity = opts.Capacity

	dataFresh, err := e.prepareRegion(data, e.regionSize, "records")
	if err != nil {
		return nil, err
	}
	if _, err := e.prepareRegion(meta, protocol.MetaRegionSize, "metadata"); err != nil {
		return nil, err
	}

	state, metaOK, err := e.meta.load(e.capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if !metaOK && opts.RequireMetadata {
		return nil, ErrMetadataCorrupted
	}
	if metaOK {
		e.index = ring.FromState(state, e.capacity)
		e.generation = state.Generation
	}

	e.readiness = StateRecovering
	e.mu.Lock()
	defer e.mu.Unlock()

	var report RecoveryReport
	switch {
	case dataFresh:
		report, err = e.resetLocked()
	case !metaOK:
		e.logger.Warn("No valid metadata copy, scanning record region")
		report, err = e.fullScanLocked()
	default:
		report, err = e.recoverLocked()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: recovery: %w", ErrInitialization, err)
	}
	e.noteRecovery(report)

	e.readiness = StateReady
	e.logger.Info("Ring log ready",
		"mode", report.Mode,
		"count", e.index.Count,
		"capacity", e.capacity,
		"generation", e.generation,
		"duration", report.Duration)
	return e, nil
}

// prepareRegion checks the length of r against want. A resizable region of
// the wrong length is truncated and zero-filled; fresh reports that.
func (e *Engine) prepareRegion(r region.Region, want int64, name string) (fresh bool, err error) {
	size := r.Size()
	if size == want {
		return false, nil
	}
	if size < 0 {
		return false, fmt.Errorf("%w: %s region size unknown", ErrInitialization, name)
	}

	rs, ok := r.(region.Resizer)
	if !ok {
		if size < want {
			return false, fmt.Errorf("%w: %s region has %d bytes, need %d", ErrInitialization, name, size, want)
		}
		// Larger fixed media are used from the start.
		return false, nil
	}

	if size == 0 {
		e.logger.Info("Initializing region", "region", name, "size", want)
	} else {
		e.logger.Warn("Region size mismatch, reinitializing", "region", name, "size", size, "expected", want)
	}
	if err := rs.Truncate(want); err != nil {
		return false, fmt.Errorf("%w: resize %s region: %w", ErrInitialization, name, err)
	}
	if err := region.Fill(r, 0, want, 0); err != nil {
		return false, fmt.Errorf("%w: clear %s region: %w", ErrInitialization, name, err)
	}
	if err := r.Sync(); err != nil {
		return false, fmt.Errorf("%w: sync %s region: %w", ErrInitialization, name, err)
	}
	return true, nil
}

func (e *Engine) checkReady() error {
	switch e.readiness {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}
	return ErrNotReady
}

// ready checks readiness and rebuilds the ring first when a failed mutation
// left the record region out of step with the index.
func (e *Engine) ready() error {
	if err := e.checkReady(); err != nil {
		return err
	}
	if !e.dirty {
		return nil
	}
	return e.repairLocked()
}

func (e *Engine) repairLocked() error {
	e.logger.Warn("Record region diverged from index after a failed write, rebuilding",
		"count", e.index.Count, "generation", e.generation)
	e.readiness = StateRecovering
	defer func() { e.readiness = StateReady }()

	report, err := e.fullScanLocked()
	if err != nil {
		return err
	}
	e.noteRecovery(report)
	return nil
}

// commit persists next under a new generation and adopts it. On failure the
// in-memory index is left as it was before the call; callers that already
// changed live slots keep e.dirty set so the ring is rebuilt.
func (e *Engine) commit(next ring.Index) error {
	st := next.State(e.generation + 1)
	if err := e.meta.persist(st); err != nil {
		e.stats.PersistFailures++
		e.logger.Error("Metadata persist failed", "generation", st.Generation, "err", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.index = next
	e.generation = st.Generation
	return nil
}

func (e *Engine) slotOffset(slot int) int64 {
	return int64(slot) * protocol.RecordSize
}

func (e *Engine) readRegion() ([]byte, error) {
	buf := make([]byte, e.regionSize)
	if _, err := e.data.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: read record region: %w", ErrRead, err)
	}
	return buf, nil
}

func (e *Engine) readSlot(slot int) (protocol.Record, error) {
	var buf [protocol.RecordSize]byte
	if _, err := e.data.ReadAt(buf[:], e.slotOffset(slot)); err != nil {
		return protocol.Record{}, fmt.Errorf("%w: slot %d: %w", ErrRead, slot, err)
	}
	rec, ok := protocol.DecodeRecord(buf[:])
	if !ok {
		e.stats.CorruptReads++
		return protocol.Record{}, fmt.Errorf("%w: slot %d", ErrRecordCorrupted, slot)
	}
	return rec, nil
}

// live decodes every live record, oldest first.
func (e *Engine) live() ([]protocol.Record, error) {
	if e.index.Empty() {
		return nil, nil
	}
	buf, err := e.readRegion()
	if err != nil {
		return nil, err
	}
	recs := make([]protocol.Record, 0, e.index.Count)
	for i := 0; i < e.index.Count; i++ {
		slot := e.index.Position(i)
		off := e.slotOffset(slot)
		rec, ok := protocol.DecodeRecord(buf[off : off+protocol.RecordSize])
		if !ok {
			e.stats.CorruptReads++
			return nil, fmt.Errorf("%w: slot %d", ErrRecordCorrupted, slot)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Enqueue appends a reading. When the ring is full the oldest reading is
// overwritten.
func (e *Engine) Enqueue(s protocol.Slot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}

	slot, seq, evicted, next := e.index.Admit()
	rec := protocol.EncodeRecord(seq, s)
	// Overwriting the head touches a live slot; rolling back the index is
	// not enough if anything below fails.
	e.dirty = evicted
	if _, err := e.data.WriteAt(rec[:], e.slotOffset(slot)); err != nil {
		return fmt.Errorf("%w: write record slot %d: %w", ErrWrite, slot, err)
	}
	if err := e.data.Sync(); err != nil {
		return fmt.Errorf("%w: sync record slot %d: %w", ErrWrite, slot, err)
	}
	if err := e.commit(next); err != nil {
		return err
	}
	e.dirty = false

	e.stats.Enqueued++
	if evicted {
		e.stats.Evicted++
		e.logger.Debug("Evicted oldest record", "slot", slot)
	}
	return nil
}

// Dequeue removes and returns the oldest reading. It returns ErrEmpty when
// no readings are stored.
func (e *Engine) Dequeue() (protocol.Slot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return protocol.Slot{}, err
	}

	slot, next, ok := e.index.Release()
	if !ok {
		return protocol.Slot{}, ErrEmpty
	}
	rec, err := e.readSlot(slot)
	if err != nil {
		return protocol.Slot{}, err
	}
	if err := e.commit(next); err != nil {
		return protocol.Slot{}, err
	}
	e.stats.Dequeued++

	// Blank the released slot so a later full scan cannot resurrect it.
	var blank [protocol.RecordSize]byte
	if _, err := e.data.WriteAt(blank[:], e.slotOffset(slot)); err != nil {
		e.logger.Warn("Failed to blank dequeued slot", "slot", slot, "err", err)
	} else if err := e.data.Sync(); err != nil {
		e.logger.Warn("Failed to sync blanked slot", "slot", slot, "err", err)
	}
	return rec.Slot, nil
}

// FindRange returns the readings with start <= timestamp <= end, oldest first.
func (e *Engine) FindRange(start, end uint32) ([]protocol.Slot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	recs, err := e.live()
	if err != nil {
		return nil, err
	}
	var out []protocol.Slot
	for _, r := range recs {
		if r.Slot.Timestamp >= start && r.Slot.Timestamp <= end {
			out = append(out, r.Slot)
		}
	}
	return out, nil
}

// LoadAll returns every stored reading, oldest first.
func (e *Engine) LoadAll() ([]protocol.Slot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	recs, err := e.live()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Slot, len(recs))
	for i, r := range recs {
		out[i] = r.Slot
	}
	return out, nil
}

// Records returns every live record with its sequence number, oldest first.
func (e *Engine) Records() ([]protocol.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.live()
}

// LoadInfo returns the oldest reading stamped ts.
func (e *Engine) LoadInfo(ts uint32) (protocol.Slot, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return protocol.Slot{}, false, err
	}
	for i := 0; i < e.index.Count; i++ {
		rec, err := e.readSlot(e.index.Position(i))
		if err != nil {
			return protocol.Slot{}, false, err
		}
		if rec.Slot.Timestamp == ts {
			return rec.Slot, true, nil
		}
	}
	return protocol.Slot{}, false, nil
}

// Latest returns the newest reading.
func (e *Engine) Latest() (protocol.Slot, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return protocol.Slot{}, false, err
	}
	if e.index.Empty() {
		return protocol.Slot{}, false, nil
	}
	rec, err := e.readSlot(e.index.Newest())
	if err != nil {
		return protocol.Slot{}, false, err
	}
	return rec.Slot, true, nil
}

// EraseInfo removes every reading stamped ts and compacts the ring. It
// returns the number removed.
func (e *Engine) EraseInfo(ts uint32) (int, error) {
	return e.removeWhere(func(s protocol.Slot) bool { return s.Timestamp == ts })
}

// ClearRange removes every reading with start <= timestamp <= end and
// compacts the ring. It returns the number removed.
func (e *Engine) ClearRange(start, end uint32) (int, error) {
	return e.removeWhere(func(s protocol.Slot) bool {
		return s.Timestamp >= start && s.Timestamp <= end
	})
}

func (e *Engine) removeWhere(drop func(protocol.Slot) bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return 0, err
	}
	recs, err := e.live()
	if err != nil {
		return 0, err
	}
	keep := recs[:0]
	for _, r := range recs {
		if !drop(r.Slot) {
			keep = append(keep, r)
		}
	}
	removed := len(recs) - len(keep)
	if removed == 0 {
		return 0, nil
	}
	if err := e.rewriteLocked(keep, e.index.NextSeq); err != nil {
		return 0, err
	}
	e.stats.Erased += uint64(removed)
	return removed, nil
}

// ClearStorage blanks the record region and resets the ring to empty with
// sequence numbering restarted.
func (e *Engine) ClearStorage() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.dirty = true
	if err := e.clearRegion(); err != nil {
		return err
	}
	if err := e.commit(ring.New(e.capacity)); err != nil {
		return err
	}
	e.dirty = false
	e.logger.Info("Storage cleared", "generation", e.generation)
	return nil
}

// RewriteRecords replaces the whole ring with recs laid out from slot 0.
func (e *Engine) RewriteRecords(recs []protocol.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	return e.rewriteLocked(recs, e.index.NextSeq)
}

func (e *Engine) clearRegion() error {
	if err := region.Clear(e.data, e.regionSize); err != nil {
		return fmt.Errorf("%w: clear record region: %w", ErrWrite, err)
	}
	if err := e.data.Sync(); err != nil {
		return fmt.Errorf("%w: sync record region: %w", ErrWrite, err)
	}
	return nil
}

// rewriteLocked compacts recs into slots 0..len(recs)-1. next_seq becomes the
// last sequence plus one, or emptyNext when recs is empty.
func (e *Engine) rewriteLocked(recs []protocol.Record, emptyNext uint32) error {
	if len(recs) > e.capacity {
		return fmt.Errorf("%w: %d records, capacity %d", ErrTooManyRecords, len(recs), e.capacity)
	}
	e.dirty = true
	if err := e.clearRegion(); err != nil {
		return err
	}

	nextSeq := emptyNext
	if len(recs) > 0 {
		buf := make([]byte, 0, len(recs)*protocol.RecordSize)
		for _, r := range recs {
			buf = protocol.AppendRecord(buf, r.Seq, r.Slot)
		}
		if _, err := e.data.WriteAt(buf, 0); err != nil {
			return fmt.Errorf("%w: write %d records: %w", ErrWrite, len(recs), err)
		}
		if err := e.data.Sync(); err != nil {
			return fmt.Errorf("%w: sync records: %w", ErrWrite, err)
		}
		nextSeq = recs[len(recs)-1].Seq + 1
	}

	if err := e.commit(e.index.Compacted(len(recs), nextSeq)); err != nil {
		return err
	}
	e.dirty = false
	e.stats.Rewrites++
	return nil
}

// Len returns the number of stored readings.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Count
}

func (e *Engine) Capacity() int { return e.capacity }

// State returns the descriptor as last persisted.
func (e *Engine) State() protocol.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.State(e.generation)
}

func (e *Engine) Readiness() Readiness {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readiness
}

// MetadataCopies decodes both descriptor copies as they are on the medium.
func (e *Engine) MetadataCopies() (copies [2]protocol.State, valid [2]bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return copies, valid, err
	}
	raw, err := e.meta.copies()
	if err != nil {
		return copies, valid, fmt.Errorf("%w: %w", ErrRead, err)
	}
	for i := range raw {
		copies[i], valid[i] = protocol.DecodeState(raw[i], e.capacity)
	}
	return copies, valid, nil
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Readiness = e.readiness
	s.Count = e.index.Count
	s.Head = e.index.Head
	s.Tail = e.index.Tail
	s.NextSeq = e.index.NextSeq
	s.Generation = e.generation
	return s
}

// LastRecovery returns the report of the most recent recovery pass.
func (e *Engine) LastRecovery() RecoveryReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// Close closes both regions. Further calls fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readiness == StateClosed {
		return nil
	}
	e.readiness = StateClosed
	return errors.Join(e.data.Close(), e.meta.r.Close())
}
