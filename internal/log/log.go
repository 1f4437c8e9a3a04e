// Package log provides a global interface to logging functionality
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type (
	// Mode is the context key holding the current invocation mode.
	Mode struct{}
	// Step is the context key holding the pipeline step currently running.
	Step struct{}
)

func Debugf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Debugf(format, args...)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Infof(format, args...)
}

func Warnf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Warnf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Errorf(format, args...)
}

func WithFields(ctx context.Context, fields map[string]interface{}) *logrus.Entry {
	return entry(ctx).WithFields(fields)
}

func entry(ctx context.Context) *logrus.Entry {
	e := logrus.NewEntry(logrus.StandardLogger())
	if ctx == nil {
		return e
	}

	if mode, ok := ctx.Value(Mode{}).(string); ok {
		e = e.WithField("mode", mode)
	}
	if step, ok := ctx.Value(Step{}).(string); ok {
		e = e.WithField("step", step)
	}

	return e
}
