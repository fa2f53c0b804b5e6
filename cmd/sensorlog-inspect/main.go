package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"sensorlog/protocol"
	"sensorlog/region"
	"sensorlog/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)

	var err error
	switch cmd {
	case "slots":
		err = runSlots()
	case "meta":
		err = runMeta()
	case "flash":
		err = runFlash()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: sensorlog-inspect <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  slots  Decode every physical record slot")
	fmt.Println("         Usage: slots -dir <data_dir> [-hex]")
	fmt.Println("  meta   Decode both metadata copies")
	fmt.Println("         Usage: meta -dir <data_dir> [-capacity <n>]")
	fmt.Println("  flash  Decode the header, metadata and slots of a flash partition")
	fmt.Println("         Usage: flash -dev <device> [-capacity <n>] [-hex]")
}

// openRegions opens the record and metadata files of a file-backed log
// without locking them.
func openRegions(dir string) (data, meta region.Region, err error) {
	df, err := region.OpenFileReadOnly(filepath.Join(dir, store.RecordsFile))
	if err != nil {
		return nil, nil, err
	}
	mf, err := region.OpenFileReadOnly(filepath.Join(dir, store.MetaFile))
	if err != nil {
		df.Close()
		return nil, nil, err
	}
	return df, mf, nil
}

func runSlots() error {
	fs := flag.NewFlagSet("slots", flag.ExitOnError)
	dir := fs.String("dir", "data", "Data directory")
	showHex := fs.Bool("hex", false, "Print raw slot bytes")
	fs.Parse(os.Args[1:])

	data, meta, err := openRegions(*dir)
	if err != nil {
		return err
	}
	defer meta.Close()
	defer data.Close()
	return dumpSlots(os.Stdout, data, *showHex)
}

func runMeta() error {
	fs := flag.NewFlagSet("meta", flag.ExitOnError)
	dir := fs.String("dir", "data", "Data directory")
	capacity := fs.Int("capacity", 0, "Ring capacity (default derived from records file)")
	fs.Parse(os.Args[1:])

	data, meta, err := openRegions(*dir)
	if err != nil {
		return err
	}
	defer meta.Close()
	defer data.Close()

	c := *capacity
	if c == 0 {
		c = int(data.Size() / protocol.RecordSize)
	}
	return dumpMeta(os.Stdout, meta, c)
}

func runFlash() error {
	fs := flag.NewFlagSet("flash", flag.ExitOnError)
	dev := fs.String("dev", "", "Flash device or image file")
	capacity := fs.Int("capacity", protocol.DefaultCapacity, "Ring capacity the partition was laid out for")
	showHex := fs.Bool("hex", false, "Print raw slot bytes")
	fs.Parse(os.Args[1:])

	if *dev == "" {
		return fmt.Errorf("-dev is required")
	}
	f, err := region.OpenFileReadOnly(*dev)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := region.TouchFlashHeader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", *dev, err)
	}
	fmt.Printf("Header: magic=%q size=%d sector=%d data=%d\n", h.Magic[:], h.Size, h.SectorSize, h.Capacity())

	fl, err := region.OpenFlash(f, int64(h.SectorSize), h.Capacity(), false, nil)
	if err != nil {
		return err
	}
	recSize, metaSize, _ := store.FlashLayout(*capacity)
	data, err := region.NewSub(fl, 0, recSize)
	if err != nil {
		return err
	}
	meta, err := region.NewSub(fl, recSize, metaSize)
	if err != nil {
		return err
	}
	if err := dumpMeta(os.Stdout, meta, *capacity); err != nil {
		return err
	}
	return dumpSlots(os.Stdout, data, *showHex)
}

func dumpMeta(out io.Writer, meta region.Region, capacity int) error {
	buf := make([]byte, protocol.MetaRegionSize)
	if _, err := meta.ReadAt(buf, 0); err != nil && err != io.EOF {
		return fmt.Errorf("read metadata: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COPY\tGEN\tHEAD\tTAIL\tCOUNT\tNEXT SEQ\tCRC\tSTATUS")
	for i := 0; i < protocol.MetaCopies; i++ {
		raw := buf[i*protocol.MetaSize : (i+1)*protocol.MetaSize]
		crc := binary.LittleEndian.Uint16(raw[22:24])
		s, ok := protocol.DecodeState(raw, capacity)
		if !ok {
			fmt.Fprintf(w, "%d\t-\t-\t-\t-\t-\t0x%04x\tINVALID\n", i, crc)
			continue
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t0x%04x\tOK\n", i, s.Generation, s.Head, s.Tail, s.Count, s.NextSeq, crc)
	}
	if s, ok := protocol.SelectState(buf[:protocol.MetaSize], buf[protocol.MetaSize:], capacity); ok {
		fmt.Fprintf(w, "selected\t%d\t%d\t%d\t%d\t%d\t\t\n", s.Generation, s.Head, s.Tail, s.Count, s.NextSeq)
	}
	return w.Flush()
}

func dumpSlots(out io.Writer, data region.Region, showHex bool) error {
	size := data.Size()
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return fmt.Errorf("read records: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	cols := []string{"SLOT", "SEQ", "TS", "TEMP", "HUM", "STATUS"}
	if showHex {
		cols = append(cols, "RAW")
	}
	fmt.Fprintln(w, strings.Join(cols, "\t"))

	var ok, blank, bad int
	for slot := 0; int64(slot+1)*protocol.RecordSize <= size; slot++ {
		raw := buf[slot*protocol.RecordSize : (slot+1)*protocol.RecordSize]
		var line string
		if rec, valid := protocol.DecodeRecord(raw); valid {
			ok++
			line = fmt.Sprintf("%d\t%d\t%d\t%.1f\t%.1f\tOK", slot, rec.Seq, rec.Slot.Timestamp, rec.Slot.TemperatureC(), rec.Slot.HumidityPct())
		} else if isBlank(raw) {
			blank++
			continue
		} else {
			bad++
			line = fmt.Sprintf("%d\t-\t-\t-\t-\tCORRUPT", slot)
		}
		if showHex {
			line += "\t" + hex.EncodeToString(raw)
		}
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "valid=%d blank=%d corrupt=%d\n", ok, blank, bad)
	return nil
}

func isBlank(raw []byte) bool {
	for _, b := range raw {
		if b != raw[0] {
			return false
		}
	}
	return raw[0] == 0x00 || raw[0] == 0xFF
}
