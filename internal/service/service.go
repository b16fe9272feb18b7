//go:build windows

// Package service runs the agent under the Windows Service Control Manager.
// From a terminal the agent runs in the foreground instead.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

// Name is the SCM service name.
const Name = "ObuMonitor"

// stopTimeout bounds how long a stop request waits for the agent to finish.
const stopTimeout = 15 * time.Second

// AgentService implements svc.Handler.
type AgentService struct {
	logger *zap.Logger
	run    func(ctx context.Context) error
}

// New creates a service wrapper. run is called with a context that is
// cancelled when the SCM asks the service to stop.
func New(logger *zap.Logger, run func(ctx context.Context) error) *AgentService {
	return &AgentService{logger: logger.Named("service"), run: run}
}

// IsWindowsService reports whether the process was started by the SCM.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run enters the SCM control loop.
func (s *AgentService) Run() error {
	return svc.Run(Name, s)
}

// Execute implements svc.Handler.
func (s *AgentService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	s.logger.Info("Windows service started")

	for {
		select {
		case err := <-done:
			// The agent finished on its own, e.g. after the unit halted.
			if err != nil {
				s.logger.Error("Agent exited with error", zap.Error(err))
				return false, 1
			}
			s.logger.Info("Agent finished, stopping service")
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				s.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(stopTimeout):
					s.logger.Warn("Agent did not stop in time")
				}
				return false, 0
			default:
				s.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
