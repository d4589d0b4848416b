// Package mock provides common mock implementations for testing.
package mock

import (
	"sync"

	"github.com/GoCodeAlone/modular"
)

// Logger implements modular.Logger, collecting messages for assertions.
type Logger struct {
	mu         sync.Mutex
	LogEntries []string
}

func (m *Logger) record(msg string) {
	m.mu.Lock()
	m.LogEntries = append(m.LogEntries, msg)
	m.mu.Unlock()
}

// Debug implements the Logger interface.
func (m *Logger) Debug(msg string, args ...interface{}) { m.record(msg) }

// Info implements the Logger interface.
func (m *Logger) Info(msg string, args ...interface{}) { m.record(msg) }

// Warn implements the Logger interface.
func (m *Logger) Warn(msg string, args ...interface{}) { m.record(msg) }

// Error implements the Logger interface.
func (m *Logger) Error(msg string, args ...interface{}) { m.record(msg) }

// Entries returns a snapshot of the collected messages.
func (m *Logger) Entries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.LogEntries...)
}

// NewTestApplication creates a modular application suitable for tests.
func NewTestApplication() modular.Application {
	logger := &Logger{LogEntries: make([]string, 0)}
	return modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
}
