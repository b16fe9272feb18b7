//go:build !linux && !windows

package autostart

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("autostart is not supported on " + runtime.GOOS)

type unsupported struct{}

// New returns a Manager that reports every operation as unsupported.
func New(workDir string) Manager { return unsupported{} }

func (unsupported) ServiceName() string { return "obumon-agent" }
func (unsupported) IsInstalled() (bool, error) { return false, nil }
func (unsupported) Install(string, []string) error { return errUnsupported }
func (unsupported) Uninstall() error { return errUnsupported }
