// Package logging configures the shared logrus logger. Log output goes to
// stderr (stdout is reserved for the JSON report) or to a rotating file.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFormatter renders one entry per line:
//
//	[2026-10-15 08:01:02] [1f0c9a2b] [warn ] [gemini.go:88] message provider=gemini attempt=2
type LogFormatter struct {
	RunID string
}

// Fields that are printed, in this order. Anything else is dropped so a
// careless WithField cannot leak material into the log.
var logFieldOrder = []string{"provider", "attempt", "state", "status", "path", "files", "reason", "error"}

func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	runID := f.RunID
	if runID == "" {
		runID = "--------"
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] [%s:%d] %s%s\n", timestamp, runID, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] %s%s\n", timestamp, runID, levelStr, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// Options controls Setup.
type Options struct {
	Level string
	// File enables rotating file output instead of stderr.
	File  string
	RunID string
}

// NewRunID returns a short identifier that tags every line of one run.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Setup configures the standard logrus logger. The returned closer releases
// the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	level, err := log.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	log.SetLevel(level)
	log.SetReportCaller(level >= log.DebugLevel)
	log.SetFormatter(&LogFormatter{RunID: opts.RunID})

	if strings.TrimSpace(opts.File) == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	writer := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    10,
		MaxBackups: 3,
	}
	log.SetOutput(writer)
	return writer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
