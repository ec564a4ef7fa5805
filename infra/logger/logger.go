// Package logger adapts zerolog to the core Logger contract. Every logger
// carries a component field naming the part of the dispatcher it serves.
package logger

import corelogger "github.com/NexoWatt/nexowatt-ems/core/logger"

type Logger = corelogger.Logger

// NopLogger discards everything. Tests and the simulator use it when no
// output is wanted.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns the logger of component. APP_ENV=dev switches to console
// output.
func New(component string) Logger {
	return NewZerologLogger(component)
}
