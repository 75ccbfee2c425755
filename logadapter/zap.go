package logadapter

import (
	"context"
	"sort"

	"go.uber.org/zap"

	wizard "github.com/goliatone/go-wizard"
)

// Zap wraps a sugared zap logger. Messages use printf formatting like the
// rest of the wizard loggers; fields become structured zap fields.
type Zap struct {
	logger *zap.SugaredLogger
}

var (
	_ wizard.Logger       = Zap{}
	_ wizard.FieldsLogger = Zap{}
)

// FromZap adapts logger. A nil logger yields the wizard fallback logger.
func FromZap(logger *zap.Logger) wizard.Logger {
	if logger == nil {
		return wizard.NewFmtLogger(nil)
	}
	return Zap{logger: logger.Sugar()}
}

// Zap has no trace level; trace goes to debug.
func (l Zap) Trace(msg string, args ...any) { l.logger.Debugf(msg, args...) }
func (l Zap) Debug(msg string, args ...any) { l.logger.Debugf(msg, args...) }
func (l Zap) Info(msg string, args ...any)  { l.logger.Infof(msg, args...) }
func (l Zap) Warn(msg string, args ...any)  { l.logger.Warnf(msg, args...) }
func (l Zap) Error(msg string, args ...any) { l.logger.Errorf(msg, args...) }
func (l Zap) Fatal(msg string, args ...any) { l.logger.Fatalf(msg, args...) }

// WithContext is a no-op; zap carries no context.
func (l Zap) WithContext(context.Context) wizard.Logger {
	return l
}

func (l Zap) WithFields(fields map[string]any) wizard.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return Zap{logger: l.logger.With(kv...)}
}
