package protocol

import (
	"encoding/binary"
)

// Record pairs a sequence number with one measurement slot.
type Record struct {
	Seq  uint32
	Slot Slot
}

// EncodeRecord serializes a record into its fixed 16-byte form.
func EncodeRecord(seq uint32, slot Slot) [RecordSize]byte {
	var buf [RecordSize]byte
	putRecord(buf[:], seq, slot)
	return buf
}

// AppendRecord appends the encoded record to dst.
func AppendRecord(dst []byte, seq uint32, slot Slot) []byte {
	buf := EncodeRecord(seq, slot)
	return append(dst, buf[:]...)
}

func putRecord(buf []byte, seq uint32, slot Slot) {
	binary.LittleEndian.PutUint16(buf[0:2], RecordMagic)
	binary.LittleEndian.PutUint32(buf[2:6], seq)
	slot.put(buf[6:12])
	buf[12] = 0
	buf[13] = 0
	binary.LittleEndian.PutUint16(buf[14:16], Checksum(buf[:RecordCRCSpan]))
}

// DecodeRecord parses a 16-byte record. It reports false for a short buffer,
// a magic mismatch or a CRC mismatch; a never-written slot and a corrupted
// slot are indistinguishable.
func DecodeRecord(buf []byte) (Record, bool) {
	if len(buf) < RecordSize {
		return Record{}, false
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != RecordMagic {
		return Record{}, false
	}
	if binary.LittleEndian.Uint16(buf[14:16]) != Checksum(buf[:RecordCRCSpan]) {
		return Record{}, false
	}
	return Record{
		Seq:  binary.LittleEndian.Uint32(buf[2:6]),
		Slot: slotFrom(buf[6:12]),
	}, true
}
