package ringdb

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

var (
	ErrRead              = errors.New("storage read failed")
	ErrEmpty             = fmt.Errorf("%w: no records stored", ErrRead)
	ErrWrite             = errors.New("storage write failed")
	ErrTooManyRecords    = fmt.Errorf("%w: record count exceeds capacity", ErrWrite)
	ErrInitialization    = errors.New("storage initialization failed")
	ErrMetadataCorrupted = errors.New("both metadata copies are corrupted")
	ErrRecordCorrupted   = errors.New("live record failed validation")
	ErrPersistence       = errors.New("metadata persist failed")
	ErrNotReady          = errors.New("engine is not ready")
	ErrClosed            = errors.New("engine is closed")
)

// Readiness is the lifecycle state of an Engine.
type Readiness int32

const (
	StateUninitialized Readiness = iota
	StateOpening
	StateRecovering
	StateReady
	StateClosed
)

func (r Readiness) String() string {
	switch r {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateRecovering:
		return "recovering"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("readiness(%d)", int32(r))
}

// RecoveryMode names the path a recovery pass took.
type RecoveryMode string

const (
	// RecoveryNone: metadata was valid and the ring empty.
	RecoveryNone RecoveryMode = "none"
	// RecoveryReset: the record region was freshly initialized.
	RecoveryReset RecoveryMode = "reset"
	// RecoveryFast: every live record validated against the metadata.
	RecoveryFast RecoveryMode = "fast"
	// RecoveryFullScan: the ring was rebuilt from every physical slot.
	RecoveryFullScan RecoveryMode = "full_scan"
)

// RecoveryReport describes one recovery pass.
type RecoveryReport struct {
	Mode      RecoveryMode
	Scanned   int // Slots examined.
	Recovered int // Live records after recovery.
	Dropped   int // Slots that held data but did not survive.
	Duration  time.Duration
}

// Options configures an Engine on Open.
type Options struct {
	// Capacity is the number of record slots. It fixes the record region
	// length; a region of a different length is reinitialized.
	// If 0, protocol.DefaultCapacity is used.
	Capacity int

	// Logger receives recovery and reinitialization events.
	// If nil, logs are discarded.
	Logger *slog.Logger

	// AllowClockRegression disables the non-decreasing timestamp check during
	// fast validation.
	AllowClockRegression bool

	// RequireMetadata makes Open fail with ErrMetadataCorrupted instead of
	// salvaging when neither metadata copy is valid.
	RequireMetadata bool
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Readiness  Readiness
	Capacity   int
	Count      int
	Head       int
	Tail       int
	NextSeq    uint32
	Generation uint32

	Enqueued        uint64
	Dequeued        uint64
	Evicted         uint64
	Erased          uint64
	Rewrites        uint64
	PersistFailures uint64
	CorruptReads    uint64

	Recoveries       uint64
	FullScans        uint64
	DroppedRecords   uint64
	LastRecoveryMode RecoveryMode
	LastRecovery     time.Duration
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
