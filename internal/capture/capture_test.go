package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func makePackets(n int, base time.Time, step time.Duration) []Packet {
	pkts := make([]Packet, n)
	for i := range pkts {
		data := bytes.Repeat([]byte{byte(i)}, 10+i)
		pkts[i] = Packet{
			Info: gopacket.CaptureInfo{
				Timestamp:     base.Add(time.Duration(i) * step),
				CaptureLength: len(data),
				Length:        len(data),
			},
			Data: data,
		}
	}
	return pkts
}

func TestWriteReadRoundTrip_Microseconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "full.pcap")

	base := time.Date(2025, 6, 16, 10, 0, 0, 123456000, time.UTC)
	src := &File{LinkType: layers.LinkTypeEthernet, Snaplen: 65535}
	src.Packets = makePackets(5, base, 1500*time.Microsecond)

	if err := WriteFile(path, src, src.Packets); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Len() != 5 {
		t.Fatalf("Len = %d, want 5", got.Len())
	}
	if got.Nanos {
		t.Error("expected microsecond resolution")
	}
	for i, p := range got.Packets {
		if !p.Info.Timestamp.Equal(src.Packets[i].Info.Timestamp) {
			t.Errorf("packet %d: timestamp %v, want %v", i, p.Info.Timestamp, src.Packets[i].Info.Timestamp)
		}
		if !bytes.Equal(p.Data, src.Packets[i].Data) {
			t.Errorf("packet %d: payload mismatch", i)
		}
	}
}

func TestSliceRoundTrip_PreservesNanosecondTimestamps(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full.pcap")
	part := filepath.Join(dir, "part.pcap")

	base := time.Date(2025, 6, 16, 10, 0, 0, 987654321, time.UTC)
	src := &File{LinkType: layers.LinkTypeRaw, Snaplen: 2048, Nanos: true}
	src.Packets = makePackets(6, base, 333*time.Nanosecond)

	if err := WriteFile(full, src, src.Packets); err != nil {
		t.Fatalf("WriteFile full: %v", err)
	}
	cache, err := ReadFile(full)
	if err != nil {
		t.Fatalf("ReadFile full: %v", err)
	}
	if !cache.Nanos {
		t.Fatal("expected nanosecond resolution after re-read")
	}

	if err := WriteFile(part, cache, cache.Slice(2, 5)); err != nil {
		t.Fatalf("WriteFile part: %v", err)
	}
	snap, err := ReadFile(part)
	if err != nil {
		t.Fatalf("ReadFile part: %v", err)
	}
	if snap.LinkType != layers.LinkTypeRaw {
		t.Errorf("LinkType = %v, want raw", snap.LinkType)
	}
	if snap.Len() != 3 {
		t.Fatalf("Len = %d, want 3", snap.Len())
	}
	for i, p := range snap.Packets {
		want := cache.Packets[i+2].Info.Timestamp
		if p.Info.Timestamp.UnixNano() != want.UnixNano() {
			t.Errorf("packet %d: timestamp %d, want %d", i, p.Info.Timestamp.UnixNano(), want.UnixNano())
		}
	}
}

func TestWriteFile_EmptyProducesHeaderOnlyCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	if err := WriteFile(path, nil, nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("Len = %d, want 0", got.Len())
	}
}

func TestRead_TruncatedTailKeepsCompletePackets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "full.pcap")
	src := &File{LinkType: layers.LinkTypeEthernet, Snaplen: 65535}
	src.Packets = makePackets(3, time.Unix(1700000000, 0), time.Second)
	if err := WriteFile(path, src, src.Packets); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Read(bytes.NewReader(raw[:len(raw)-4]))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Len() != 2 {
		t.Errorf("Len = %d, want 2", got.Len())
	}
}

func TestSlice_ClampsBounds(t *testing.T) {
	f := &File{Packets: makePackets(4, time.Unix(0, 0), time.Second)}
	tests := []struct {
		name       string
		start, end int
		want       int
	}{
		{"full", 0, 4, 4},
		{"tail", 2, 4, 2},
		{"start past end", 9, 4, 0},
		{"end past len", 1, 99, 3},
		{"negative start", -3, 2, 2},
		{"inverted", 3, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(f.Slice(tt.start, tt.end)); got != tt.want {
				t.Errorf("Slice(%d, %d) = %d packets, want %d", tt.start, tt.end, got, tt.want)
			}
		})
	}

	var nilFile *File
	if got := nilFile.Slice(0, 10); len(got) != 0 {
		t.Errorf("nil file slice = %d packets", len(got))
	}
}
