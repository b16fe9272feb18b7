//go:build !windows

// Package service provides a stub for non-Windows platforms, where the
// agent always runs in the foreground.
package service

import (
	"context"

	"go.uber.org/zap"
)

// Name is the service name used on Windows.
const Name = "ObuMonitor"

// AgentService runs the agent directly.
type AgentService struct {
	logger *zap.Logger
	run    func(ctx context.Context) error
}

// New creates a stub service wrapper.
func New(logger *zap.Logger, run func(ctx context.Context) error) *AgentService {
	return &AgentService{logger: logger, run: run}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run executes the agent with a background context.
func (s *AgentService) Run() error {
	return s.run(context.Background())
}
