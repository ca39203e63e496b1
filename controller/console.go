package controller

import (
	"context"

	"github.com/fornellas/slogxt/log"
)

// Console receives the user facing messages of the controller.
type Console interface {
	Info(ctx context.Context, msg string)
	Verbose(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
}

// LogConsole is a Console writing to the context logger. Verbose messages are logged at debug
// level.
type LogConsole struct{}

func (LogConsole) Info(ctx context.Context, msg string) {
	log.MustLogger(ctx).WithGroup("console").Info(msg)
}

func (LogConsole) Verbose(ctx context.Context, msg string) {
	log.MustLogger(ctx).WithGroup("console").Debug(msg)
}

func (LogConsole) Error(ctx context.Context, msg string) {
	log.MustLogger(ctx).WithGroup("console").Error(msg)
}
