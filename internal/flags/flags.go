// Package flags publishes the monitor's stalled and halted conditions to
// sibling processes. The default channel is a pair of marker files; an MQTT
// publisher can be added alongside it.
package flags

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Default flag names.
const (
	Stalled = "rx_stalled.flag"
	Halted  = "obu_halted.flag"
)

// Publisher announces that a named condition started or ended.
type Publisher interface {
	Set(name string) error
	Clear(name string) error
}

// Dir stores each flag as a file in a directory. A flag is set while its
// file exists.
type Dir struct {
	path string
}

// NewDir creates the directory if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("creating flag dir: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the file backing name.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.path, filepath.Base(name))
}

// Set writes the flag file. Setting an already-set flag is a no-op.
func (d *Dir) Set(name string) error {
	if err := os.WriteFile(d.Path(name), []byte("1"), 0640); err != nil {
		return fmt.Errorf("setting flag %s: %w", name, err)
	}
	return nil
}

// Clear removes the flag file. Clearing an unset flag is a no-op.
func (d *Dir) Clear(name string) error {
	if err := os.Remove(d.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing flag %s: %w", name, err)
	}
	return nil
}

// IsSet reports whether the flag file exists.
func (d *Dir) IsSet(name string) bool {
	_, err := os.Stat(d.Path(name))
	return err == nil
}

// Multi fans each call out to every publisher.
type Multi []Publisher

// Set calls Set on every publisher and returns the first error.
func (m Multi) Set(name string) error {
	var first error
	for _, p := range m {
		if err := p.Set(name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Clear calls Clear on every publisher and returns the first error.
func (m Multi) Clear(name string) error {
	var first error
	for _, p := range m {
		if err := p.Clear(name); err != nil && first == nil {
			first = err
		}
	}
	return first
}
