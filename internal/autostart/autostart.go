// Package autostart registers the agent to start at boot.
package autostart

// Manager installs and removes the agent's boot-time service.
type Manager interface {
	IsInstalled() (bool, error)
	// Install registers execPath to run with args and starts it.
	Install(execPath string, args []string) error
	Uninstall() error
	ServiceName() string
}
