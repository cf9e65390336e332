package motor

import (
	"context"
	"fmt"
	"sync"
)

// Command records one call made against the mock.
type Command struct {
	Op         string // "home" or "move"
	Controller string
	Axis       int
	Target     int
}

// Mock is a Motors implementation for tests and development. It
// records every command, tracks per-axis positions, and can be told
// to fail specific moves.
type Mock struct {
	mu        sync.Mutex
	commands  []Command
	positions map[string]int

	// FailMove, when set, is consulted before each MoveTo; a non-nil
	// return is surfaced as the command error.
	FailMove func(controllerID string, axis, target int) error

	// OnMove, when set, is invoked after each successful MoveTo,
	// outside the mock's lock. Lets tests couple motor positions to a
	// fake detector.
	OnMove func(controllerID string, axis, target int)
}

// NewMock returns an empty mock with every axis at position 0.
func NewMock() *Mock {
	return &Mock{positions: make(map[string]int)}
}

func axisKey(controllerID string, axis int) string {
	return fmt.Sprintf("%s/%d", controllerID, axis)
}

func (m *Mock) HomeAll(ctx context.Context, controllerIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range controllerIDs {
		m.commands = append(m.commands, Command{Op: "home", Controller: id})
	}
	return nil
}

func (m *Mock) MoveTo(ctx context.Context, controllerID string, axis int, targetSteps int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailMove != nil {
		if err := m.FailMove(controllerID, axis, targetSteps); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.commands = append(m.commands, Command{Op: "move", Controller: controllerID, Axis: axis, Target: targetSteps})
	m.positions[axisKey(controllerID, axis)] = targetSteps
	m.mu.Unlock()

	if m.OnMove != nil {
		m.OnMove(controllerID, axis, targetSteps)
	}
	return nil
}

// Position returns the last commanded absolute position of an axis.
func (m *Mock) Position(controllerID string, axis int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[axisKey(controllerID, axis)]
}

// Commands returns a copy of the recorded command log.
func (m *Mock) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}
