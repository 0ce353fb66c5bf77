// Package telemetry is the broker's pluggable structured-logging and
// Prometheus sink, per spec.md §1/§6: a four-method log interface backed by
// a logs_total{level} counter, plus dispatch and session gauges/histograms
// exposed on /metrics.
package telemetry

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Level is the logger's severity threshold, ordered least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel maps LOG_LEVEL's string form to a Level, defaulting to info on
// an unrecognized value.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the four-method sink every broker component logs through.
// Fields is a structured metadata bag rendered alongside the message.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)

	// Fork returns a Logger that prefixes every message with an additional
	// component name, in the manner of sammck-go-wstunnel's Logger.Fork.
	Fork(prefix string) Logger
}

// counter is the narrow slice of *Metrics a Logger needs, kept as a local
// interface so this file has no hard dependency on the prometheus types in
// metrics.go.
type counter interface {
	IncLog(level string)
}

type logger struct {
	prefix  string
	level   Level
	out     *log.Logger
	metrics counter
}

// NewLogger returns a Logger writing to os.Stderr at the given level,
// recording every call against m's logs_total counter. m may be nil, in
// which case the counter is skipped.
func NewLogger(level Level, m counter) Logger {
	return &logger{
		level:   level,
		out:     log.New(os.Stderr, "", log.LstdFlags),
		metrics: m,
	}
}

func (l *logger) Fork(prefix string) Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + "." + prefix
	}
	return &logger{prefix: newPrefix, level: l.level, out: l.out, metrics: l.metrics}
}

func (l *logger) Debug(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *logger) Info(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *logger) Warn(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *logger) Error(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

func (l *logger) log(level Level, msg string, fields map[string]any) {
	if l.metrics != nil {
		l.metrics.IncLog(level.String())
	}
	if level < l.level {
		return
	}
	l.out.Print(l.render(level, msg, fields))
}

func (l *logger) render(level Level, msg string, fields map[string]any) string {
	var b strings.Builder
	b.WriteString("[" + level.String() + "] ")
	if l.prefix != "" {
		b.WriteString(l.prefix + ": ")
	}
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	return b.String()
}
