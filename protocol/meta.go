package protocol

import (
	"encoding/binary"
)

// State is the persisted ring descriptor.
type State struct {
	Generation uint32
	Head       uint16
	Tail       uint16
	Count      uint16
	NextSeq    uint32
}

// EncodeState serializes the ring state into its fixed 24-byte metadata form.
func EncodeState(s State) [MetaSize]byte {
	var buf [MetaSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], MetaMagic)
	binary.LittleEndian.PutUint16(buf[4:6], MetaVersion)
	// buf[6:8] reserved
	binary.LittleEndian.PutUint32(buf[8:12], s.Generation)
	binary.LittleEndian.PutUint16(buf[12:14], s.Head)
	binary.LittleEndian.PutUint16(buf[14:16], s.Tail)
	binary.LittleEndian.PutUint16(buf[16:18], s.Count)
	binary.LittleEndian.PutUint32(buf[18:22], s.NextSeq)
	binary.LittleEndian.PutUint16(buf[22:24], Checksum(buf[:MetaCRCSpan]))
	return buf
}

// DecodeState parses one metadata copy. Indices are bounds-checked against
// capacity so garbage that happens to pass the CRC is still rejected.
func DecodeState(buf []byte, capacity int) (State, bool) {
	if len(buf) < MetaSize {
		return State{}, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != MetaMagic {
		return State{}, false
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != MetaVersion {
		return State{}, false
	}
	if binary.LittleEndian.Uint16(buf[22:24]) != Checksum(buf[:MetaCRCSpan]) {
		return State{}, false
	}
	s := State{
		Generation: binary.LittleEndian.Uint32(buf[8:12]),
		Head:       binary.LittleEndian.Uint16(buf[12:14]),
		Tail:       binary.LittleEndian.Uint16(buf[14:16]),
		Count:      binary.LittleEndian.Uint16(buf[16:18]),
		NextSeq:    binary.LittleEndian.Uint32(buf[18:22]),
	}
	if int(s.Head) >= capacity || int(s.Tail) >= capacity || int(s.Count) > capacity {
		return State{}, false
	}
	return s, true
}

// SelectState decodes both copies and returns the valid one with the newer
// generation. Equal generations pick copy 0.
func SelectState(copy0, copy1 []byte, capacity int) (State, bool) {
	s0, ok0 := DecodeState(copy0, capacity)
	s1, ok1 := DecodeState(copy1, capacity)
	switch {
	case ok0 && ok1:
		if SeqAfter(s1.Generation, s0.Generation) {
			return s1, true
		}
		return s0, true
	case ok0:
		return s0, true
	case ok1:
		return s1, true
	}
	return State{}, false
}
