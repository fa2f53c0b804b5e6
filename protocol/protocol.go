package protocol

import (
	"github.com/sigurn/crc16"
)

// --- Record Layout ---
// [0:2) magic | [2:6) seq | [6:10) timestamp | [10] temp | [11] humidity | [12:14) reserved | [14:16) crc

const (
	RecordMagic   uint16 = 0x4952 // "IR"
	RecordSize           = 16
	RecordCRCSpan        = 14 // Bytes covered by the record CRC.

	SlotSize = 6 // Timestamp(4) + Temperature(1) + Humidity(1)
)

// --- Metadata Layout ---
// [0:4) magic | [4:6) version | [6:8) reserved | [8:12) generation | [12:14) head
// [14:16) tail | [16:18) count | [18:22) next_seq | [22:24) crc

const (
	MetaMagic   uint32 = 0x4D455441 // "META"
	MetaVersion uint16 = 1
	MetaSize           = 24
	MetaCRCSpan        = 22
	MetaCopies         = 2

	// MetaRegionSize is the length of the region holding both metadata copies.
	MetaRegionSize = MetaSize * MetaCopies
)

// Capacity
const (
	DefaultCapacity = 300   // DefaultCapacity is the number of record slots of the reference node.
	MaxCapacity     = 65535 // MaxCapacity is bounded by the u16 head/tail/count fields.
)

// CRC16Table is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, MSB-first, no final xor.
var CRC16Table = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum computes the CRC-16 used by both records and metadata.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, CRC16Table)
}

// RecordRegionSize returns the byte length of a record region holding capacity slots.
func RecordRegionSize(capacity int) int64 {
	return int64(capacity) * RecordSize
}

// SeqAfter reports whether a comes after b in 32-bit serial-number order.
// Sequence numbers and generations wrap, so plain comparison is not enough.
func SeqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
