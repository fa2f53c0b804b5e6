package export

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"sensorlog/protocol"
)

const batchSize = 1000

// LevelDBSink keys each record by big-endian timestamp then sequence number
// so iteration is chronological. Values are the encoded 16-byte record.
type LevelDBSink struct {
	ldb *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBSink, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{
		Compression: opt.SnappyCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBSink{ldb: ldb}, nil
}

func recordKey(ts, seq uint32) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint32(k[0:4], ts)
	binary.BigEndian.PutUint32(k[4:8], seq)
	return k
}

// Write stores recs in synced batches.
func (s *LevelDBSink) Write(ctx context.Context, recs []protocol.Record) (int, error) {
	batch := new(leveldb.Batch)
	written := 0
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := s.ldb.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
			return err
		}
		written += batch.Len()
		batch.Reset()
		return nil
	}

	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		v := protocol.EncodeRecord(r.Seq, r.Slot)
		batch.Put(recordKey(r.Slot.Timestamp, r.Seq), v[:])
		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

func (s *LevelDBSink) Count(ctx context.Context) (int, error) {
	iter := s.ldb.NewIterator(nil, nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Range returns stored readings with from <= ts <= to in key order.
func (s *LevelDBSink) Range(ctx context.Context, from, to uint32) ([]protocol.Record, error) {
	rng := &util.Range{Start: recordKey(from, 0)}
	if to < ^uint32(0) {
		rng.Limit = recordKey(to+1, 0)
	}
	iter := s.ldb.NewIterator(rng, nil)
	defer iter.Release()

	var out []protocol.Record
	for iter.Next() {
		rec, ok := protocol.DecodeRecord(iter.Value())
		if !ok {
			return out, fmt.Errorf("corrupt archived record at key %x", iter.Key())
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func (s *LevelDBSink) Close() error { return s.ldb.Close() }
