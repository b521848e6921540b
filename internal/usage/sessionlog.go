package usage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// SessionLogScanner finds the newest rate-limit snapshot in Codex session
// logs. Files are line-delimited JSON and append-only.
type SessionLogScanner struct {
	mainLimitID string
}

func NewSessionLogScanner(mainLimitID string) *SessionLogScanner {
	return &SessionLogScanner{mainLimitID: mainLimitID}
}

// Scan walks files in the given order (newest first) and stops at the
// first file holding any token_count rate-limit event. Within that file
// the last event for the main limit id wins over the last other event.
// The model is the last turn_context model seen anywhere in the walk.
// ok is false when no file holds rate-limit data.
func (s *SessionLogScanner) Scan(files []string) (payload *RateLimitPayload, model string, ok bool) {
	for _, path := range files {
		main, fallback, err := s.scanFile(path, &model)
		if err != nil {
			log.WithFields(log.Fields{"provider": "codex", "path": path, "error": err}).Debug("skipping unreadable session file")
			continue
		}
		chosen := main
		if chosen == nil {
			chosen = fallback
		}
		if chosen != nil {
			return parseRateLimits(chosen.Get("rate_limits")), model, true
		}
	}
	return nil, model, false
}

func (s *SessionLogScanner) scanFile(path string, model *string) (main, fallback *gjson.Result, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, readErr := reader.ReadBytes('\n')
		if entry, ok := classifyLine(line); ok {
			switch entry.kind {
			case entryRateLimit:
				payload := entry.payload
				if payload.Get("rate_limits.limit_id").String() == s.mainLimitID {
					main = &payload
				} else {
					fallback = &payload
				}
			case entryContext:
				if m := entry.payload.Get("model").String(); m != "" {
					*model = m
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return main, fallback, nil
			}
			return nil, nil, fmt.Errorf("read session file: %w", readErr)
		}
	}
}

type entryKind int

const (
	entryIgnored entryKind = iota
	entryRateLimit
	entryContext
)

type sessionLogEntry struct {
	kind    entryKind
	payload gjson.Result
}

// classifyLine parses one log line. Malformed or irrelevant lines report
// ok=false.
func classifyLine(line []byte) (sessionLogEntry, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !gjson.ValidBytes(line) {
		return sessionLogEntry{}, false
	}
	rec := gjson.ParseBytes(line)
	if !rec.IsObject() {
		return sessionLogEntry{}, false
	}
	payload := rec.Get("payload")
	switch rec.Get("type").String() {
	case "event_msg":
		if payload.Get("type").String() == "token_count" && payload.Get("rate_limits").IsObject() {
			return sessionLogEntry{kind: entryRateLimit, payload: payload}, true
		}
	case "turn_context":
		if payload.IsObject() {
			return sessionLogEntry{kind: entryContext, payload: payload}, true
		}
	}
	return sessionLogEntry{kind: entryIgnored}, false
}

func parseRateLimits(rl gjson.Result) *RateLimitPayload {
	return &RateLimitPayload{
		LimitID:   rl.Get("limit_id").String(),
		PlanType:  rl.Get("plan_type").String(),
		Primary:   parseWindow(rl.Get("primary")),
		Secondary: parseWindow(rl.Get("secondary")),
	}
}

func parseWindow(w gjson.Result) *RateLimitWindow {
	if !w.IsObject() {
		return nil
	}
	return &RateLimitWindow{
		UsedPercent: w.Get("used_percent").Float(),
		ResetsAt:    parseUnixSeconds(w.Get("resets_at")),
	}
}

func parseUnixSeconds(v gjson.Result) *time.Time {
	var secs int64
	switch v.Type {
	case gjson.Number:
		secs = v.Int()
	case gjson.String:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return nil
		}
		secs = parsed
	default:
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

// DiscoverSessionFiles lists every *.jsonl file under dir, newest path
// first (lexicographic order, reversed). Hidden entries are skipped.
func DiscoverSessionFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Unreadable subtree.
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk sessions dir %s: %w", dir, err)
	}
	slices.Sort(files)
	slices.Reverse(files)
	return files, nil
}
