// Package xlog is the structured-logging entry point shared by every
// package in this module. It is a thin shim over erigon-lib's log/v3 so
// that call sites look like `xlog.Info("msg", "k", v)` regardless of which
// concrete backend is wired in by cmd/execd.
package xlog

import (
	"os"

	"github.com/erigontech/erigon-lib/log/v3"
)

// Logger is the subset of log/v3's interface this module relies on.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
}

var root Logger = log.Root()

// SetLevel configures the root logger's minimum level from a CLI/config
// string ("trace", "debug", "info", "warn", "error").
func SetLevel(levelStr string) {
	lvl, err := log.LvlFromString(levelStr)
	if err != nil {
		lvl = log.LvlInfo
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat(false))))
}

// New returns a child logger carrying a fixed set of key-value context,
// e.g. xlog.New("component", "mpt").
func New(ctx ...interface{}) Logger {
	return log.New(ctx...)
}

func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
