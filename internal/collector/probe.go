// Package collector reads the unit's log sizes once per tick.
// A SizeProbe tries an ordered list of remote commands until one prints a
// byte count; the Sampler combines the receive and transmit logs into a
// single models.Sample.
package collector

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/remote"
)

// DefaultSizeCommands are tried in order; {path} is replaced by the quoted
// remote path.
var DefaultSizeCommands = []string{
	"stat -c %s {path}",
	"wc -c < {path}",
}

// Runner executes a shell command on the unit and returns its stdout.
type Runner interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
}

// SizeProbe resolves the byte length of a remote file.
type SizeProbe struct {
	commands []string
}

// NewSizeProbe creates a probe over the given command templates, falling
// back to DefaultSizeCommands when none are given.
func NewSizeProbe(commands []string) *SizeProbe {
	if len(commands) == 0 {
		commands = DefaultSizeCommands
	}
	return &SizeProbe{commands: append([]string(nil), commands...)}
}

// Size returns the first non-negative integer printed by the command list,
// or models.Unknown if every command fails. The only error returned is a
// lost session, which the caller treats as a transport failure.
func (p *SizeProbe) Size(ctx context.Context, r Runner, path string) (int64, error) {
	quoted := shellQuote(path)
	for _, tmpl := range p.commands {
		cmd := strings.ReplaceAll(tmpl, "{path}", quoted)
		out, err := r.Run(ctx, cmd)
		if err != nil {
			if errors.Is(err, remote.ErrSessionLost) {
				return models.Unknown, err
			}
			if ctx.Err() != nil {
				return models.Unknown, ctx.Err()
			}
			continue
		}
		if size, ok := parseSize(out); ok {
			return size, nil
		}
	}
	return models.Unknown, nil
}

// parseSize accepts output consisting only of decimal digits and
// surrounding whitespace.
func parseSize(out []byte) (int64, bool) {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
