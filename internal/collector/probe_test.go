package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/remote"
)

// scriptRunner answers commands from a map and records what it ran.
type scriptRunner struct {
	replies map[string]reply
	ran     []string
}

type reply struct {
	out string
	err error
}

func (r *scriptRunner) Run(_ context.Context, cmd string) ([]byte, error) {
	r.ran = append(r.ran, cmd)
	rep, ok := r.replies[cmd]
	if !ok {
		return nil, errors.New("exit status 1")
	}
	return []byte(rep.out), rep.err
}

func TestSizeProbe_FirstCommandWins(t *testing.T) {
	r := &scriptRunner{replies: map[string]reply{
		"stat -c %s '/log/rx.pcap'": {out: "1024\n"},
		"wc -c < '/log/rx.pcap'":    {out: "9999\n"},
	}}
	size, err := NewSizeProbe(nil).Size(context.Background(), r, "/log/rx.pcap")
	if err != nil {
		t.Fatal(err)
	}
	if size != 1024 {
		t.Errorf("size = %d, want 1024", size)
	}
	if len(r.ran) != 1 {
		t.Errorf("ran %d commands, want 1", len(r.ran))
	}
}

func TestSizeProbe_FallsBackOnFailureOrGarbage(t *testing.T) {
	tests := []struct {
		name string
		stat reply
	}{
		{"command fails", reply{err: errors.New("stat: not found")}},
		{"non numeric", reply{out: "stat: cannot stat\n"}},
		{"negative", reply{out: "-5"}},
		{"empty", reply{out: "  \n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptRunner{replies: map[string]reply{
				"stat -c %s '/x'": tt.stat,
				"wc -c < '/x'":    {out: " 77 \n"},
			}}
			size, err := NewSizeProbe(nil).Size(context.Background(), r, "/x")
			if err != nil {
				t.Fatal(err)
			}
			if size != 77 {
				t.Errorf("size = %d, want 77", size)
			}
		})
	}
}

func TestSizeProbe_AllFailingIsUnknown(t *testing.T) {
	r := &scriptRunner{}
	size, err := NewSizeProbe([]string{"a {path}", "b {path}", "c {path}"}).Size(context.Background(), r, "/x")
	if err != nil {
		t.Fatalf("soft failures must not error: %v", err)
	}
	if size != models.Unknown {
		t.Errorf("size = %d, want Unknown", size)
	}
	if len(r.ran) != 3 {
		t.Errorf("ran %d commands, want 3", len(r.ran))
	}
}

func TestSizeProbe_SessionLostPropagates(t *testing.T) {
	lost := fmt.Errorf("open session: %w", remote.ErrSessionLost)
	r := &scriptRunner{replies: map[string]reply{
		"stat -c %s '/x'": {err: lost},
	}}
	_, err := NewSizeProbe(nil).Size(context.Background(), r, "/x")
	if !errors.Is(err, remote.ErrSessionLost) {
		t.Fatalf("err = %v, want ErrSessionLost", err)
	}
	if len(r.ran) != 1 {
		t.Errorf("kept probing after session loss")
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("/tmp/it's here"); got != `'/tmp/it'\''s here'` {
		t.Errorf("shellQuote = %s", got)
	}
}

func TestSampler_Collect(t *testing.T) {
	r := &scriptRunner{replies: map[string]reply{
		"stat -c %s '/rx'": {out: "10"},
		"stat -c %s '/tx'": {out: "20"},
	}}
	s := NewSampler(nil, "/rx", "/tx")
	sample, err := s.Collect(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if sample.RX != 10 || sample.TX != 20 {
		t.Errorf("sample = %+v", sample)
	}
	if sample.ObservedAt.IsZero() {
		t.Error("ObservedAt not set")
	}
}
