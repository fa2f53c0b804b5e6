package ringdb

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"sensorlog/protocol"
	"sensorlog/ring"
)

// Recover validates the live records against the metadata and falls back to
// a full scan when they disagree.
func (e *Engine) Recover() (RecoveryReport, error) {
	return e.runRecovery(e.recoverLocked)
}

// Rebuild reconstructs the ring from every physical slot, ignoring the
// current metadata.
func (e *Engine) Rebuild() (RecoveryReport, error) {
	return e.runRecovery(e.fullScanLocked)
}

func (e *Engine) runRecovery(fn func() (RecoveryReport, error)) (RecoveryReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkReady(); err != nil {
		return RecoveryReport{}, err
	}
	e.readiness = StateRecovering
	defer func() { e.readiness = StateReady }()

	if e.dirty {
		// The index cannot be trusted to validate the region.
		fn = e.fullScanLocked
	}
	report, err := fn()
	if err != nil {
		return report, err
	}
	e.noteRecovery(report)
	return report, nil
}

func (e *Engine) noteRecovery(r RecoveryReport) {
	e.lastReport = r
	e.stats.Recoveries++
	if r.Mode == RecoveryFullScan {
		e.stats.FullScans++
	}
	e.stats.DroppedRecords += uint64(r.Dropped)
	e.stats.LastRecoveryMode = r.Mode
	e.stats.LastRecovery = r.Duration
}

// resetLocked starts an empty ring over a freshly initialized record region.
// The generation keeps counting from whatever metadata survived.
func (e *Engine) resetLocked() (RecoveryReport, error) {
	start := time.Now()
	if e.index.Count > 0 {
		e.logger.Warn("Record region reinitialized, discarding metadata", "count", e.index.Count, "generation", e.generation)
	}
	if err := e.commit(ring.New(e.capacity)); err != nil {
		return RecoveryReport{}, err
	}
	return RecoveryReport{Mode: RecoveryReset, Duration: time.Since(start)}, nil
}

func (e *Engine) recoverLocked() (RecoveryReport, error) {
	start := time.Now()
	if e.index.Empty() {
		return RecoveryReport{Mode: RecoveryNone, Duration: time.Since(start)}, nil
	}
	if err := e.validateLocked(); err != nil {
		e.logger.Warn("Fast validation failed, running full scan", "err", err)
		return e.fullScanLocked()
	}
	n := e.index.Count
	return RecoveryReport{Mode: RecoveryFast, Scanned: n, Recovered: n, Duration: time.Since(start)}, nil
}

// validateLocked walks the live slots from head and checks that each decodes,
// that sequence numbers strictly increase and that timestamps do not go
// backwards.
func (e *Engine) validateLocked() error {
	if !e.index.Consistent() {
		return fmt.Errorf("inconsistent index head=%d tail=%d count=%d", e.index.Head, e.index.Tail, e.index.Count)
	}
	buf, err := e.readRegion()
	if err != nil {
		return err
	}

	var prev protocol.Record
	for i := 0; i < e.index.Count; i++ {
		slot := e.index.Position(i)
		off := e.slotOffset(slot)
		rec, ok := protocol.DecodeRecord(buf[off : off+protocol.RecordSize])
		if !ok {
			return fmt.Errorf("slot %d: %w", slot, ErrRecordCorrupted)
		}
		if i > 0 {
			if !protocol.SeqAfter(rec.Seq, prev.Seq) {
				return fmt.Errorf("slot %d: seq %d does not follow %d", slot, rec.Seq, prev.Seq)
			}
			if !e.allowClockRegression && rec.Slot.Timestamp < prev.Slot.Timestamp {
				return fmt.Errorf("slot %d: timestamp %d before %d", slot, rec.Slot.Timestamp, prev.Slot.Timestamp)
			}
		}
		prev = rec
	}
	if !protocol.SeqAfter(e.index.NextSeq, prev.Seq) {
		return fmt.Errorf("next_seq %d does not follow newest seq %d", e.index.NextSeq, prev.Seq)
	}
	return nil
}

// fullScanLocked decodes every physical slot, orders the survivors by
// sequence number and rewrites them compactly. When nothing survives the ring
// is reset to empty with numbering restarted.
func (e *Engine) fullScanLocked() (RecoveryReport, error) {
	start := time.Now()
	report := RecoveryReport{Mode: RecoveryFullScan, Scanned: e.capacity}

	buf, err := e.readRegion()
	if err != nil {
		return report, err
	}

	var recs []protocol.Record
	for slot := 0; slot < e.capacity; slot++ {
		off := e.slotOffset(slot)
		raw := buf[off : off+protocol.RecordSize]
		rec, ok := protocol.DecodeRecord(raw)
		if !ok {
			if !blankSlot(raw) {
				report.Dropped++
				e.logger.Debug("Dropping invalid slot", "slot", slot)
			}
			continue
		}
		recs = append(recs, rec)
	}

	recs, dups := orderBySeq(recs)
	report.Dropped += dups
	if len(recs) > e.capacity {
		report.Dropped += len(recs) - e.capacity
		recs = recs[len(recs)-e.capacity:]
	}

	if err := e.rewriteLocked(recs, 0); err != nil {
		return report, err
	}
	report.Recovered = len(recs)
	report.Duration = time.Since(start)
	e.logger.Info("Full scan recovery complete",
		"recovered", report.Recovered,
		"dropped", report.Dropped,
		"generation", e.generation)
	return report, nil
}

// blankSlot reports whether raw holds no data: all zero after a clear, or all
// 0xFF after a flash erase.
func blankSlot(raw []byte) bool {
	if len(raw) == 0 {
		return true
	}
	b := raw[0]
	if b != 0x00 && b != 0xFF {
		return false
	}
	return bytes.Count(raw, raw[:1]) == len(raw)
}

// orderBySeq sorts records oldest first under wrapping sequence numbers and
// drops duplicate sequence numbers. The oldest record is the one after the
// widest circular gap between neighbouring sequence numbers.
func orderBySeq(recs []protocol.Record) ([]protocol.Record, int) {
	if len(recs) < 2 {
		return recs, 0
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	uniq := recs[:1]
	for _, r := range recs[1:] {
		if r.Seq != uniq[len(uniq)-1].Seq {
			uniq = append(uniq, r)
		}
	}
	dups := len(recs) - len(uniq)

	n := len(uniq)
	start := 0
	widest := uniq[0].Seq - uniq[n-1].Seq // gap across the wrap point
	for i := 1; i < n; i++ {
		if gap := uniq[i].Seq - uniq[i-1].Seq; gap > widest {
			widest = gap
			start = i
		}
	}
	if start == 0 {
		return uniq, dups
	}
	out := make([]protocol.Record, 0, n)
	out = append(out, uniq[start:]...)
	out = append(out, uniq[:start]...)
	return out, dups
}
