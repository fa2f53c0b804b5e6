// Package export archives ring log records into host-side stores.
package export

import (
	"context"
	"errors"
	"fmt"

	"sensorlog/protocol"
)

const (
	KindSQLite  = "sqlite"
	KindLevelDB = "leveldb"
)

var ErrUnknownSink = errors.New("export: unknown sink kind")

// Sink stores records keyed by (timestamp, seq): writing the same record twice
// leaves one copy.
//
// The key is unique only within one sequence epoch. ClearStorage, and a full
// scan that finds no valid record, restart seq at 0, so a later reading with
// the same timestamp and seq replaces the archived one. With a monotonic
// clock the timestamps differ and both rows are kept.
type Sink interface {
	Write(ctx context.Context, recs []protocol.Record) (int, error)
	// Range returns archived records with from <= ts <= to in key order.
	Range(ctx context.Context, from, to uint32) ([]protocol.Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// RecordSource is satisfied by ringdb.Engine.
type RecordSource interface {
	Records() ([]protocol.Record, error)
}

// Filter selects records with From <= timestamp <= To. A zero To means no
// upper bound.
type Filter struct {
	From uint32
	To   uint32
}

func (f Filter) match(ts uint32) bool {
	if ts < f.From {
		return false
	}
	return f.To == 0 || ts <= f.To
}

// OpenSink opens a sink of the given kind at path.
func OpenSink(kind, path string) (Sink, error) {
	switch kind {
	case KindSQLite:
		return OpenSQLite(path)
	case KindLevelDB:
		return OpenLevelDB(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSink, kind)
}

// Export copies every matching live record from src into sink and returns
// the number written.
func Export(ctx context.Context, src RecordSource, sink Sink, f Filter) (int, error) {
	recs, err := src.Records()
	if err != nil {
		return 0, fmt.Errorf("read records: %w", err)
	}
	selected := recs[:0]
	for _, r := range recs {
		if f.match(r.Slot.Timestamp) {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return 0, nil
	}
	return sink.Write(ctx, selected)
}
