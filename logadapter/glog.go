// Package logadapter bridges third-party loggers to wizard.Logger.
package logadapter

import (
	"context"

	"github.com/goliatone/go-logger/glog"

	wizard "github.com/goliatone/go-wizard"
)

// GLog wraps a go-logger logger.
type GLog struct {
	logger glog.Logger
}

var (
	_ wizard.Logger       = GLog{}
	_ wizard.FieldsLogger = GLog{}
)

// FromGLog adapts logger. A nil logger yields the wizard fallback logger.
func FromGLog(logger glog.Logger) wizard.Logger {
	if logger == nil {
		return wizard.NewFmtLogger(nil)
	}
	return GLog{logger: logger}
}

func (l GLog) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l GLog) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l GLog) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l GLog) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l GLog) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l GLog) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l GLog) WithContext(ctx context.Context) wizard.Logger {
	if l.logger == nil {
		return wizard.NewFmtLogger(nil).WithContext(ctx)
	}
	return GLog{logger: l.logger.WithContext(ctx)}
}

// WithFields returns l unchanged when the wrapped logger has no field support.
func (l GLog) WithFields(fields map[string]any) wizard.Logger {
	if l.logger == nil {
		return wizard.NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return GLog{logger: fl.WithFields(fields)}
	}
	return l
}
