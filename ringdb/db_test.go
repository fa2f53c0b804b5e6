package ringdb

import (
	"errors"
	"path/filepath"
	"testing"

	"sensorlog/protocol"
	"sensorlog/region"
)

type testStore struct {
	data *region.Mem
	meta *region.Mem
	opts Options
}

func newTestStore(capacity int) *testStore {
	return &testStore{
		data: region.NewMem(0),
		meta: region.NewMem(0),
		opts: Options{Capacity: capacity},
	}
}

func (ts *testStore) open(t *testing.T) *Engine {
	t.Helper()
	ts.data.Reopen()
	ts.meta.Reopen()
	e, err := Open(ts.data, ts.meta, ts.opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return e
}

func setupEngine(t *testing.T, capacity int) (*Engine, *testStore) {
	t.Helper()
	ts := newTestStore(capacity)
	e := ts.open(t)
	t.Cleanup(func() { e.Close() })
	return e, ts
}

func reading(ts uint32) protocol.Slot {
	return protocol.Slot{Timestamp: ts, Temperature: int8(ts % 100), Humidity: uint8(ts % 200)}
}

func mustEnqueue(t *testing.T, e *Engine, stamps ...uint32) {
	t.Helper()
	for _, ts := range stamps {
		if err := e.Enqueue(reading(ts)); err != nil {
			t.Fatalf("Enqueue(%d) failed: %v", ts, err)
		}
	}
}

func timestamps(t *testing.T, e *Engine) []uint32 {
	t.Helper()
	all, err := e.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	out := make([]uint32, len(all))
	for i, s := range all {
		out[i] = s.Timestamp
	}
	return out
}

func equalStamps(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEngine_FreshOpen(t *testing.T) {
	e, ts := setupEngine(t, 0)
	if e.Capacity() != protocol.DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", e.Capacity(), protocol.DefaultCapacity)
	}
	if ts.data.Size() != protocol.RecordRegionSize(protocol.DefaultCapacity) {
		t.Errorf("Record region size = %d", ts.data.Size())
	}
	if ts.meta.Size() != protocol.MetaRegionSize {
		t.Errorf("Metadata region size = %d", ts.meta.Size())
	}
	if e.Readiness() != StateReady {
		t.Errorf("Readiness = %v, want ready", e.Readiness())
	}
	if got := e.LastRecovery().Mode; got != RecoveryReset {
		t.Errorf("Recovery mode = %s, want reset", got)
	}
	if e.State().Generation == 0 {
		t.Errorf("Fresh open should persist a first generation")
	}
}

func TestEngine_FIFOEviction(t *testing.T) {
	e, _ := setupEngine(t, 300)
	for ts := uint32(1); ts <= 301; ts++ {
		mustEnqueue(t, e, ts)
	}

	got := timestamps(t, e)
	if len(got) != 300 {
		t.Fatalf("Len = %d, want 300", len(got))
	}
	if got[0] != 2 || got[299] != 301 {
		t.Errorf("Range = %d..%d, want 2..301", got[0], got[299])
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1]+1 {
			t.Fatalf("Gap at %d: %d after %d", i, got[i], got[i-1])
		}
	}

	s, err := e.Dequeue()
	if err != nil {
		t.Fatal(err)
	}
	if s.Timestamp != 2 {
		t.Errorf("Dequeue = %d, want 2", s.Timestamp)
	}
	if e.Len() != 299 {
		t.Errorf("Len after dequeue = %d, want 299", e.Len())
	}
	if st := e.Stats(); st.Evicted != 1 || st.Enqueued != 301 {
		t.Errorf("Stats evicted=%d enqueued=%d", st.Evicted, st.Enqueued)
	}
}

func TestEngine_EmptyContract(t *testing.T) {
	e, _ := setupEngine(t, 8)

	_, err := e.Dequeue()
	if !errors.Is(err, ErrEmpty) || !errors.Is(err, ErrRead) {
		t.Errorf("Dequeue on empty: got %v, want ErrEmpty wrapping ErrRead", err)
	}
	if all, err := e.LoadAll(); err != nil || len(all) != 0 {
		t.Errorf("LoadAll = %v, %v", all, err)
	}
	if got, err := e.FindRange(0, ^uint32(0)); err != nil || len(got) != 0 {
		t.Errorf("FindRange = %v, %v", got, err)
	}
	if _, ok, err := e.LoadInfo(1); ok || err != nil {
		t.Errorf("LoadInfo found=%v err=%v", ok, err)
	}
	if _, ok, err := e.Latest(); ok || err != nil {
		t.Errorf("Latest found=%v err=%v", ok, err)
	}
	if n, err := e.EraseInfo(1); n != 0 || err != nil {
		t.Errorf("EraseInfo = %d, %v", n, err)
	}
	if e.Len() != 0 {
		t.Errorf("Len = %d", e.Len())
	}
}

func TestEngine_FindRange(t *testing.T) {
	e, _ := setupEngine(t, 8)
	mustEnqueue(t, e, 10, 20, 30, 40)

	got, err := e.FindRange(15, 35)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Timestamp != 20 || got[1].Timestamp != 30 {
		t.Errorf("FindRange(15, 35) = %v, want [20 30]", got)
	}

	got, _ = e.FindRange(10, 40)
	if len(got) != 4 {
		t.Errorf("Inclusive bounds: got %d records, want 4", len(got))
	}
	got, _ = e.FindRange(35, 15)
	if len(got) != 0 {
		t.Errorf("Inverted range returned %v", got)
	}
}

func TestEngine_LoadInfoAndLatest(t *testing.T) {
	e, _ := setupEngine(t, 8)
	mustEnqueue(t, e, 10, 20, 30)

	s, ok, err := e.LoadInfo(20)
	if err != nil || !ok {
		t.Fatalf("LoadInfo(20) found=%v err=%v", ok, err)
	}
	if s != reading(20) {
		t.Errorf("LoadInfo(20) = %v, want %v", s, reading(20))
	}

	latest, ok, err := e.Latest()
	if err != nil || !ok || latest.Timestamp != 30 {
		t.Errorf("Latest = %v found=%v err=%v", latest, ok, err)
	}
}

func TestEngine_EraseInfo(t *testing.T) {
	e, ts := setupEngine(t, 8)
	mustEnqueue(t, e, 10, 20, 30, 40)

	n, err := e.EraseInfo(20)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("EraseInfo removed %d, want 1", n)
	}
	if got := timestamps(t, e); !equalStamps(got, []uint32{10, 30, 40}) {
		t.Errorf("After erase: %v", got)
	}
	if e.Len() != 3 {
		t.Errorf("Len = %d, want 3", e.Len())
	}

	// Compacted layout survives a reopen and keeps appending in order.
	e.Close()
	e2 := ts.open(t)
	defer e2.Close()
	if got := timestamps(t, e2); !equalStamps(got, []uint32{10, 30, 40}) {
		t.Errorf("After reopen: %v", got)
	}
	if e2.LastRecovery().Mode != RecoveryFast {
		t.Errorf("Reopen mode = %s, want fast", e2.LastRecovery().Mode)
	}
	mustEnqueue(t, e2, 50)
	if got := timestamps(t, e2); !equalStamps(got, []uint32{10, 30, 40, 50}) {
		t.Errorf("After append: %v", got)
	}
}

func TestEngine_EraseInfoRemovesAllMatches(t *testing.T) {
	e, _ := setupEngine(t, 8)
	mustEnqueue(t, e, 5, 7, 5, 9, 5)

	n, err := e.EraseInfo(5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Removed %d, want 3", n)
	}
	if got := timestamps(t, e); !equalStamps(got, []uint32{7, 9}) {
		t.Errorf("Remaining %v, want [7 9]", got)
	}
}

func TestEngine_ClearRange(t *testing.T) {
	e, _ := setupEngine(t, 8)
	mustEnqueue(t, e, 10, 20, 30, 40, 50)

	n, err := e.ClearRange(20, 40)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("ClearRange removed %d, want 3", n)
	}
	if got := timestamps(t, e); !equalStamps(got, []uint32{10, 50}) {
		t.Errorf("Remaining %v, want [10 50]", got)
	}
}

func TestEngine_ClearStorage(t *testing.T) {
	e, ts := setupEngine(t, 8)
	mustEnqueue(t, e, 1, 2, 3)
	before := e.State()

	if err := e.ClearStorage(); err != nil {
		t.Fatal(err)
	}
	after := e.State()
	if after.Count != 0 || after.NextSeq != 0 {
		t.Errorf("State after clear = %+v", after)
	}
	if !protocol.SeqAfter(after.Generation, before.Generation) {
		t.Errorf("Generation did not advance: %d -> %d", before.Generation, after.Generation)
	}
	for i, b := range ts.data.Bytes() {
		if b != 0 {
			t.Fatalf("Record region byte %d = %#x after clear", i, b)
		}
	}

	e.Close()
	e2 := ts.open(t)
	defer e2.Close()
	if e2.Len() != 0 {
		t.Errorf("Len after reopen = %d", e2.Len())
	}
}

func TestEngine_RewriteRecords(t *testing.T) {
	e, _ := setupEngine(t, 4)

	recs := []protocol.Record{
		{Seq: 7, Slot: reading(70)},
		{Seq: 8, Slot: reading(80)},
	}
	if err := e.RewriteRecords(recs); err != nil {
		t.Fatal(err)
	}
	st := e.State()
	if st.Head != 0 || st.Count != 2 || st.Tail != 2 || st.NextSeq != 9 {
		t.Errorf("State after rewrite = %+v", st)
	}

	tooMany := make([]protocol.Record, 5)
	err := e.RewriteRecords(tooMany)
	if !errors.Is(err, ErrTooManyRecords) || !errors.Is(err, ErrWrite) {
		t.Errorf("Expected ErrTooManyRecords wrapping ErrWrite, got %v", err)
	}
	if e.Len() != 2 {
		t.Errorf("Failed rewrite changed Len to %d", e.Len())
	}

	if err := e.RewriteRecords(nil); err != nil {
		t.Fatal(err)
	}
	if st := e.State(); st.Count != 0 || st.NextSeq != 9 {
		t.Errorf("Empty rewrite state = %+v, want count 0 next_seq 9", st)
	}
}

func TestEngine_WriteFailureLeavesState(t *testing.T) {
	e, ts := setupEngine(t, 8)
	mustEnqueue(t, e, 1, 2)
	before := e.State()

	injected := errors.New("medium fault")
	ts.data.WriteErr = injected
	err := e.Enqueue(reading(3))
	if !errors.Is(err, ErrWrite) || !errors.Is(err, injected) {
		t.Errorf("Expected ErrWrite wrapping the medium error, got %v", err)
	}
	if e.State() != before {
		t.Errorf("State changed after failed write: %+v -> %+v", before, e.State())
	}
	ts.data.WriteErr = nil

	mustEnqueue(t, e, 3)
	if got := timestamps(t, e); !equalStamps(got, []uint32{1, 2, 3}) {
		t.Errorf("After retry: %v", got)
	}
}

func TestEngine_PersistFailureRollsBack(t *testing.T) {
	e, ts := setupEngine(t, 8)
	mustEnqueue(t, e, 1, 2)
	before := e.State()

	injected := errors.New("metadata fault")
	ts.meta.WriteErr = injected
	err := e.Enqueue(reading(3))
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, injected) {
		t.Errorf("Expected ErrPersistence wrapping the medium error, got %v", err)
	}
	if e.State() != before || e.Len() != 2 {
		t.Errorf("State changed after failed persist: %+v", e.State())
	}
	if e.Stats().PersistFailures != 1 {
		t.Errorf("PersistFailures = %d", e.Stats().PersistFailures)
	}
	ts.meta.WriteErr = nil

	mustEnqueue(t, e, 3)
	e.Close()

	e2 := ts.open(t)
	defer e2.Close()
	if got := timestamps(t, e2); !equalStamps(got, []uint32{1, 2, 3}) {
		t.Errorf("After reopen: %v", got)
	}
	if e2.LastRecovery().Mode != RecoveryFast {
		t.Errorf("Reopen mode = %s, want fast", e2.LastRecovery().Mode)
	}
}

func TestEngine_PersistFailureOnEvictingEnqueue(t *testing.T) {
	e, ts := setupEngine(t, 3)
	mustEnqueue(t, e, 1, 2, 3)

	injected := errors.New("metadata fault")
	ts.meta.WriteErr = injected
	if err := e.Enqueue(reading(4)); !errors.Is(err, ErrPersistence) {
		t.Fatalf("Expected ErrPersistence, got %v", err)
	}

	// While the medium still refuses metadata the ring cannot be served.
	if _, err := e.LoadAll(); !errors.Is(err, ErrPersistence) {
		t.Errorf("Expected ErrPersistence while the fault persists, got %v", err)
	}
	ts.meta.WriteErr = nil

	// Slot 0 already holds reading 4, so the rebuilt ring keeps it.
	got, err := e.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll after fault cleared: %v", err)
	}
	stamps := make([]uint32, len(got))
	for i, s := range got {
		stamps[i] = s.Timestamp
	}
	if !equalStamps(stamps, []uint32{2, 3, 4}) {
		t.Errorf("Ring after repair = %v, want [2 3 4]", stamps)
	}
	if rep := e.LastRecovery(); rep.Mode != RecoveryFullScan {
		t.Errorf("Repair mode = %s, want full_scan", rep.Mode)
	}

	mustEnqueue(t, e, 5)
	e.Close()
	e2 := ts.open(t)
	defer e2.Close()
	if got := timestamps(t, e2); !equalStamps(got, []uint32{3, 4, 5}) {
		t.Errorf("After reopen: %v, want [3 4 5]", got)
	}
	if e2.LastRecovery().Mode != RecoveryFast {
		t.Errorf("Reopen mode = %s, want fast", e2.LastRecovery().Mode)
	}
}

func TestEngine_PersistFailureDuringCompaction(t *testing.T) {
	injected := errors.New("metadata fault")
	cases := []struct {
		name string
		op   func(e *Engine) error
		want []uint32
	}{
		{"EraseInfo", func(e *Engine) error { _, err := e.EraseInfo(1); return err }, []uint32{2, 3, 4, 5}},
		{"ClearRange", func(e *Engine) error { _, err := e.ClearRange(2, 3); return err }, []uint32{1, 4, 5}},
		{"ClearStorage", func(e *Engine) error { return e.ClearStorage() }, []uint32{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, ts := setupEngine(t, 8)
			mustEnqueue(t, e, 1, 2, 3, 4, 5)

			ts.meta.WriteErr = injected
			if err := tc.op(e); !errors.Is(err, ErrPersistence) {
				t.Fatalf("Expected ErrPersistence, got %v", err)
			}
			ts.meta.WriteErr = nil

			got, err := e.LoadAll()
			if errors.Is(err, ErrRecordCorrupted) {
				t.Fatalf("Ring served corrupt records after failed %s: %v", tc.name, err)
			}
			if err != nil {
				t.Fatalf("LoadAll failed: %v", err)
			}
			stamps := make([]uint32, len(got))
			for i, s := range got {
				stamps[i] = s.Timestamp
			}
			if !equalStamps(stamps, tc.want) {
				t.Errorf("Ring after repair = %v, want %v", stamps, tc.want)
			}

			e.Close()
			e2 := ts.open(t)
			defer e2.Close()
			if got := timestamps(t, e2); !equalStamps(got, tc.want) {
				t.Errorf("After reopen: %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEngine_CorruptionRecovery(t *testing.T) {
	e, ts := setupEngine(t, 300)
	mustEnqueue(t, e, 100, 200, 300, 400, 500)
	gen := e.State().Generation
	e.Close()

	// Flip a payload byte in slot 2 so its CRC no longer matches.
	ts.data.Bytes()[2*protocol.RecordSize+8] ^= 0xFF

	e2 := ts.open(t)
	defer e2.Close()
	if got := timestamps(t, e2); !equalStamps(got, []uint32{100, 200, 400, 500}) {
		t.Errorf("Recovered %v, want [100 200 400 500]", got)
	}
	if !protocol.SeqAfter(e2.State().Generation, gen) {
		t.Errorf("Generation did not advance: %d -> %d", gen, e2.State().Generation)
	}
	rep := e2.LastRecovery()
	if rep.Mode != RecoveryFullScan || rep.Recovered != 4 || rep.Dropped != 1 {
		t.Errorf("Report = %+v", rep)
	}
	if st := e2.Stats(); st.FullScans != 1 || st.DroppedRecords != 1 {
		t.Errorf("Stats full_scans=%d dropped=%d", st.FullScans, st.DroppedRecords)
	}
}

func TestEngine_CorruptReadOutsideRecovery(t *testing.T) {
	e, ts := setupEngine(t, 8)
	mustEnqueue(t, e, 1, 2, 3)
	ts.data.Bytes()[1*protocol.RecordSize+7] ^= 0x01

	if _, err := e.LoadAll(); !errors.Is(err, ErrRecordCorrupted) {
		t.Errorf("Expected ErrRecordCorrupted, got %v", err)
	}

	rep, err := e.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if rep.Mode != RecoveryFullScan {
		t.Errorf("Recover mode = %s, want full_scan", rep.Mode)
	}
	if got := timestamps(t, e); !equalStamps(got, []uint32{1, 3}) {
		t.Errorf("After recover: %v", got)
	}
}

func TestEngine_TornMetadataCopy(t *testing.T) {
	e, ts := setupEngine(t, 8)
	mustEnqueue(t, e, 1, 2, 3)
	e.Close()

	// Trash copy 0; copy 1 still describes the ring.
	meta := ts.meta.Bytes()
	for i := 0; i < protocol.MetaSize; i++ {
		meta[i] = 0xEE
	}

	e2 := ts.open(t)
	defer e2.Close()
	if got := timestamps(t, e2); !equalStamps(got, []uint32{1, 2, 3}) {
		t.Errorf("After torn copy: %v", got)
	}
	if e2.LastRecovery().Mode != RecoveryFast {
		t.Errorf("Mode = %s, want fast", e2.LastRecovery().Mode)
	}

	_, valid, err := e2.MetadataCopies()
	if err != nil {
		t.Fatal(err)
	}
	if valid[0] || !valid[1] {
		t.Errorf("Copies valid = %v, want [false true]", valid)
	}

	// The next commit rewrites both copies.
	mustEnqueue(t, e2, 4)
	copies, valid, err := e2.MetadataCopies()
	if err != nil {
		t.Fatal(err)
	}
	if !valid[0] || !valid[1] || copies[0] != copies[1] {
		t.Errorf("Copies after commit = %+v valid=%v", copies, valid)
	}
}

func TestEngine_MetadataLossSalvage(t *testing.T) {
	e, ts := setupEngine(t, 8)
	mustEnqueue(t, e, 1, 2, 3)
	mustEnqueue(t, e, 4, 5)
	e.Close()

	meta := ts.meta.Bytes()
	for i := range meta {
		meta[i] = 0
	}

	strict := *ts
	strict.opts.RequireMetadata = true
	strict.data.Reopen()
	strict.meta.Reopen()
	if _, err := Open(strict.data, strict.meta, strict.opts); !errors.Is(err, ErrMetadataCorrupted) {
		t.Errorf("Strict open: expected ErrMetadataCorrupted, got %v", err)
	}

	e2 := ts.open(t)
	defer e2.Close()
	if got := timestamps(t, e2); !equalStamps(got, []uint32{1, 2, 3, 4, 5}) {
		t.Errorf("Salvaged %v", got)
	}
	if e2.LastRecovery().Mode != RecoveryFullScan {
		t.Errorf("Mode = %s, want full_scan", e2.LastRecovery().Mode)
	}
	if e2.State().NextSeq != 5 {
		t.Errorf("NextSeq = %d, want 5", e2.State().NextSeq)
	}
}

func TestEngine_DequeueDoesNotResurrect(t *testing.T) {
	e, _ := setupEngine(t, 8)
	mustEnqueue(t, e, 1, 2, 3)
	if _, err := e.Dequeue(); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if got := timestamps(t, e); !equalStamps(got, []uint32{2, 3}) {
		t.Errorf("After rebuild: %v", got)
	}
}

func TestEngine_SeqWraparound(t *testing.T) {
	e, ts := setupEngine(t, 8)
	recs := []protocol.Record{
		{Seq: 0xFFFFFFFE, Slot: reading(1)},
		{Seq: 0xFFFFFFFF, Slot: reading(2)},
	}
	if err := e.RewriteRecords(recs); err != nil {
		t.Fatal(err)
	}
	if e.State().NextSeq != 0 {
		t.Fatalf("NextSeq = %d, want wrap to 0", e.State().NextSeq)
	}
	mustEnqueue(t, e, 3, 4)
	e.Close()

	e2 := ts.open(t)
	defer e2.Close()
	if e2.LastRecovery().Mode != RecoveryFast {
		t.Errorf("Reopen mode = %s, want fast", e2.LastRecovery().Mode)
	}
	if got := timestamps(t, e2); !equalStamps(got, []uint32{1, 2, 3, 4}) {
		t.Errorf("After reopen: %v", got)
	}

	if _, err := e2.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if got := timestamps(t, e2); !equalStamps(got, []uint32{1, 2, 3, 4}) {
		t.Errorf("After full scan: %v", got)
	}
	if e2.State().NextSeq != 2 {
		t.Errorf("NextSeq after full scan = %d, want 2", e2.State().NextSeq)
	}
}

func TestEngine_ClockRegression(t *testing.T) {
	ts := newTestStore(8)
	e := ts.open(t)
	mustEnqueue(t, e, 50, 40)
	e.Close()

	e2 := ts.open(t)
	if e2.LastRecovery().Mode != RecoveryFullScan {
		t.Errorf("Mode = %s, want full_scan on timestamp regression", e2.LastRecovery().Mode)
	}
	if got := timestamps(t, e2); !equalStamps(got, []uint32{50, 40}) {
		t.Errorf("Full scan must keep sequence order: %v", got)
	}
	e2.Close()

	ts.opts.AllowClockRegression = true
	e3 := ts.open(t)
	defer e3.Close()
	if e3.LastRecovery().Mode != RecoveryFast {
		t.Errorf("Mode = %s, want fast with clock regression allowed", e3.LastRecovery().Mode)
	}
}

// fixed hides Truncate so the region cannot be resized.
type fixed struct{ region.Region }

func TestEngine_RegionSizeMismatch(t *testing.T) {
	ts := newTestStore(8)
	e := ts.open(t)
	mustEnqueue(t, e, 1, 2, 3)
	e.Close()

	// A different capacity changes the expected length: destructive reinit.
	ts.opts.Capacity = 16
	e2 := ts.open(t)
	if e2.Len() != 0 {
		t.Errorf("Len after reinit = %d, want 0", e2.Len())
	}
	if e2.LastRecovery().Mode != RecoveryReset {
		t.Errorf("Mode = %s, want reset", e2.LastRecovery().Mode)
	}
	if ts.data.Size() != protocol.RecordRegionSize(16) {
		t.Errorf("Region size = %d", ts.data.Size())
	}
	e2.Close()

	_, err := Open(fixed{region.NewMem(10)}, region.NewMem(0), Options{Capacity: 8})
	if !errors.Is(err, ErrInitialization) {
		t.Errorf("Undersized fixed region: expected ErrInitialization, got %v", err)
	}

	big, err := Open(fixed{region.NewMem(4096)}, fixed{region.NewMem(4096)}, Options{Capacity: 8})
	if err != nil {
		t.Fatalf("Oversized fixed region: %v", err)
	}
	defer big.Close()
	mustEnqueue(t, big, 1)
}

func TestEngine_OpenReadFailure(t *testing.T) {
	ts := newTestStore(8)
	e := ts.open(t)
	e.Close()

	ts.meta.Reopen()
	ts.meta.ReadErr = errors.New("bus error")
	_, err := Open(ts.data.Reopen(), ts.meta, ts.opts)
	if !errors.Is(err, ErrInitialization) {
		t.Errorf("Expected ErrInitialization, got %v", err)
	}
}

func TestEngine_Readiness(t *testing.T) {
	var zero Engine
	if err := zero.Enqueue(reading(1)); !errors.Is(err, ErrNotReady) {
		t.Errorf("Zero engine: expected ErrNotReady, got %v", err)
	}

	e, _ := setupEngine(t, 8)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Enqueue(reading(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Closed engine: expected ErrClosed, got %v", err)
	}
	if _, err := e.Dequeue(); !errors.Is(err, ErrClosed) {
		t.Errorf("Closed engine dequeue: expected ErrClosed, got %v", err)
	}
	if e.Readiness() != StateClosed {
		t.Errorf("Readiness = %v", e.Readiness())
	}
}

func TestEngine_CapacityOutOfRange(t *testing.T) {
	_, err := Open(region.NewMem(0), region.NewMem(0), Options{Capacity: protocol.MaxCapacity + 1})
	if !errors.Is(err, ErrInitialization) {
		t.Errorf("Expected ErrInitialization, got %v", err)
	}
}

func TestEngine_FileRegions(t *testing.T) {
	dir := t.TempDir()
	openFiles := func() (*region.File, *region.File) {
		d, err := region.OpenFile(filepath.Join(dir, "records.bin"))
		if err != nil {
			t.Fatal(err)
		}
		m, err := region.OpenFile(filepath.Join(dir, "meta.bin"))
		if err != nil {
			t.Fatal(err)
		}
		return d, m
	}

	d, m := openFiles()
	e, err := Open(d, m, Options{Capacity: 16})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustEnqueue(t, e, 1, 2, 3)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	d, m = openFiles()
	e2, err := Open(d, m, Options{Capacity: 16})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer e2.Close()
	if got := timestamps(t, e2); !equalStamps(got, []uint32{1, 2, 3}) {
		t.Errorf("After reopen: %v", got)
	}
}

func TestOrderBySeq(t *testing.T) {
	recs := []protocol.Record{
		{Seq: 1}, {Seq: 0xFFFFFFFF}, {Seq: 0}, {Seq: 0xFFFFFFFE}, {Seq: 1},
	}
	got, dups := orderBySeq(recs)
	if dups != 1 {
		t.Errorf("dups = %d, want 1", dups)
	}
	want := []uint32{0xFFFFFFFE, 0xFFFFFFFF, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Seq != want[i] {
			t.Errorf("pos %d: seq %d, want %d", i, got[i].Seq, want[i])
		}
	}

	plain, _ := orderBySeq([]protocol.Record{{Seq: 9}, {Seq: 3}, {Seq: 5}})
	if plain[0].Seq != 3 || plain[2].Seq != 9 {
		t.Errorf("Unwrapped order = %v", plain)
	}
}

func TestBlankSlot(t *testing.T) {
	if !blankSlot(make([]byte, 16)) {
		t.Error("zeros should be blank")
	}
	ff := make([]byte, 16)
	for i := range ff {
		ff[i] = 0xFF
	}
	if !blankSlot(ff) {
		t.Error("erased flash should be blank")
	}
	ff[3] = 0
	if blankSlot(ff) {
		t.Error("mixed bytes are not blank")
	}
}
