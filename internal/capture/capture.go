// Package capture reads and writes pcap files as ordered packet sequences.
// Writes keep the source file's link type, snap length and timestamp
// resolution, so a packet written out and read back carries the exact
// timestamp it was captured with.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// defaultSnaplen is used for files whose header carries no snap length.
const defaultSnaplen = 65535

// Packet is one captured frame with its original capture metadata.
type Packet struct {
	Info gopacket.CaptureInfo
	Data []byte
}

// File is a parsed capture: header properties plus packets in file order.
type File struct {
	LinkType layers.LinkType
	Snaplen  uint32
	Nanos    bool
	Packets  []Packet
}

// Len returns the number of packets, treating a nil file as empty.
func (f *File) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Packets)
}

// Slice returns packets [start, end) with both bounds clamped into range.
// It never panics; an inverted or out-of-range request yields an empty slice.
func (f *File) Slice(start, end int) []Packet {
	n := f.Len()
	start = clamp(start, 0, n)
	end = clamp(end, start, n)
	if start == end {
		return nil
	}
	return f.Packets[start:end]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ReadFile parses the pcap file at path.
func ReadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Read(fh)
}

// Read parses a pcap stream. A stream truncated mid-record (the unit may
// still be appending when the copy is taken) keeps the complete packets
// read so far.
func Read(r io.Reader) (*File, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}

	f := &File{
		LinkType: pr.LinkType(),
		Snaplen:  pr.Snaplen(),
		Nanos:    pr.Resolution() == gopacket.TimestampResolutionNanosecond,
	}
	for {
		data, ci, err := pr.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("read packet %d: %w", len(f.Packets), err)
		}
		f.Packets = append(f.Packets, Packet{Info: ci, Data: data})
	}
	return f, nil
}

// WriteFile writes packets to path using the header properties of src.
// The file is written beside path and renamed into place, so readers never
// observe a partial capture. An empty packet list produces a valid,
// header-only capture.
func WriteFile(path string, src *File, packets []Packet) error {
	if src == nil {
		src = &File{LinkType: layers.LinkTypeEthernet}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp, src, packets); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func write(w io.Writer, src *File, packets []Packet) error {
	var pw *pcapgo.Writer
	if src.Nanos {
		pw = pcapgo.NewWriterNanos(w)
	} else {
		pw = pcapgo.NewWriter(w)
	}

	snaplen := src.Snaplen
	if snaplen == 0 {
		snaplen = defaultSnaplen
	}
	if err := pw.WriteFileHeader(snaplen, src.LinkType); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}
	for i, p := range packets {
		if err := pw.WritePacket(p.Info, p.Data); err != nil {
			return fmt.Errorf("write packet %d: %w", i, err)
		}
	}
	return nil
}
