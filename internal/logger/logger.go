// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides a small leveled logger on top of log/slog, with
// TRACE/DEBUG/INFO/WARNING/ERROR severities and a choice of text or JSON
// output, so every other package can log the same way regardless of
// whether it is being driven interactively or by a daemonized mount.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Severity levels. TRACE sits below slog's built-in LevelDebug so it can be
// silenced independently of debug logging.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 4
)

// Severity names accepted in configuration.
const (
	Off     = "OFF"
	Error   = "ERROR"
	Warning = "WARNING"
	Info    = "INFO"
	Debug   = "DEBUG"
	Trace   = "TRACE"
)

type loggerFactory struct {
	file   *os.File
	level  string
	format string
}

var defaultLoggerFactory = &loggerFactory{
	level:  Info,
	format: "text",
}

var defaultLogger = slog.New(
	defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, toLevelVar(Info), ""),
)

func toLevelVar(level string) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(level, v)
	return v
}

func severityFromLevel(level string) slog.Level {
	switch level {
	case Trace:
		return LevelTrace
	case Debug:
		return LevelDebug
	case Info:
		return LevelInfo
	case Warning:
		return LevelWarn
	case Error:
		return LevelError
	case Off:
		return LevelOff
	default:
		return LevelInfo
	}
}

func setLoggingLevel(level string, v *slog.LevelVar) {
	v.Set(severityFromLevel(level))
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return Trace
	case l < LevelInfo:
		return Debug
	case l < LevelWarn:
		return Info
	case l < LevelError:
		return Warning
	default:
		return Error
	}
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	format := f.format
	if format == "" {
		format = "json"
	}

	opts := &writerHandlerOptions{level: level, prefix: prefix}

	if format == "text" {
		return &textHandler{w: w, opts: opts}
	}

	return &jsonHandler{w: w, opts: opts}
}

type writerHandlerOptions struct {
	level  *slog.LevelVar
	prefix string
}

// textHandler renders `time="..." severity=LEVEL message="..."`, matching
// the structural model's own text log line shape.
type textHandler struct {
	w    io.Writer
	opts *writerHandlerOptions
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := h.opts.prefix + r.Message

	_, err := fmt.Fprintf(
		h.w,
		"time=\"%s\" severity=%s message=\"%s\"\n",
		ts.Format("2006/01/02 15:04:05.000000"),
		severityName(r.Level),
		msg)

	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler      { return h }

// jsonHandler renders `{"timestamp":{"seconds":N,"nanos":N},"severity":"LEVEL","message":"..."}`.
type jsonHandler struct {
	w    io.Writer
	opts *writerHandlerOptions
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := h.opts.prefix + r.Message

	_, err := fmt.Fprintf(
		h.w,
		"{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":\"%s\",\"message\":\"%s\"}\n",
		ts.Unix(),
		ts.Nanosecond(),
		severityName(r.Level),
		msg)

	return err
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler      { return h }

// SetLogFormat switches the default logger's output format ("text" or
// "json"; anything else behaves like "json").
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format

	w := io.Writer(os.Stderr)
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}

	defaultLogger = slog.New(
		defaultLoggerFactory.createJsonOrTextHandler(w, toLevelVar(defaultLoggerFactory.level), ""),
	)
}

// SetLogLevel switches the default logger's minimum severity.
func SetLogLevel(level string) {
	defaultLoggerFactory.level = level

	w := io.Writer(os.Stderr)
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}

	defaultLogger = slog.New(
		defaultLoggerFactory.createJsonOrTextHandler(w, toLevelVar(level), ""),
	)
}

// InitLogFile redirects the default logger to the given file path, using
// the given format and level (which also become the configured ones). An
// empty path leaves the logger unchanged.
func InitLogFile(path string, format string, level string) error {
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file %q: %w", path, err)
	}

	defaultLoggerFactory.file = f
	defaultLoggerFactory.format = format
	defaultLoggerFactory.level = level

	defaultLogger = slog.New(
		defaultLoggerFactory.createJsonOrTextHandler(f, toLevelVar(level), ""),
	)

	return nil
}

func Tracef(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelDebug, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelWarn, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelError, fmt.Sprintf(format, args...))
}
