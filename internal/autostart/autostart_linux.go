//go:build linux

package autostart

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const serviceName = "obumon-agent"

// unitTemplate is the systemd unit written during installation.
const unitTemplate = `[Unit]
Description=OBU coverage-gap monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={exec}
WorkingDirectory={workdir}
Restart=on-failure
RestartSec=10
StandardOutput=journal
StandardError=journal
SyslogIdentifier=obumon-agent

[Install]
WantedBy=multi-user.target
`

type linuxManager struct {
	unitPath string
	workDir  string
	run      func(name string, args ...string) error
}

// New returns a Manager backed by systemd. Snapshots, flags and the
// upload ledger are written relative to workDir.
func New(workDir string) Manager {
	return &linuxManager{
		unitPath: "/etc/systemd/system/" + serviceName + ".service",
		workDir:  workDir,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

func (l *linuxManager) ServiceName() string { return serviceName }

func (l *linuxManager) IsInstalled() (bool, error) {
	_, err := os.Stat(l.unitPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking unit file: %w", err)
	}
	return true, nil
}

func (l *linuxManager) Install(execPath string, args []string) error {
	if err := os.MkdirAll(l.workDir, 0750); err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}
	if err := os.WriteFile(l.unitPath, []byte(renderUnit(execPath, args, l.workDir)), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	for _, cmd := range [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", serviceName},
		{"systemctl", "start", serviceName},
	} {
		if err := l.run(cmd[0], cmd[1:]...); err != nil {
			return fmt.Errorf("running %s: %w", strings.Join(cmd, " "), err)
		}
	}
	return nil
}

// Uninstall stops and removes the unit. Stop and disable failures are
// ignored since the service may already be inactive.
func (l *linuxManager) Uninstall() error {
	_ = l.run("systemctl", "stop", serviceName)
	_ = l.run("systemctl", "disable", serviceName)

	if err := os.Remove(l.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	_ = l.run("systemctl", "daemon-reload")
	return nil
}

func renderUnit(execPath string, args []string, workDir string) string {
	line := quoteArg(execPath)
	for _, a := range args {
		line += " " + quoteArg(a)
	}
	return strings.NewReplacer("{exec}", line, "{workdir}", workDir).Replace(unitTemplate)
}

// quoteArg quotes a for an ExecStart line when it contains spaces.
func quoteArg(a string) string {
	if !strings.ContainsAny(a, " \t\"") {
		return a
	}
	return `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
}
