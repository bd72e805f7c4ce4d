package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oxtoacart/bpool"
	"github.com/pandodao/plebwallet/core"
)

const ext = ".jsonl"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeThread maps a thread id onto a safe file name.
func SanitizeThread(threadID string) string {
	name := unsafeChars.ReplaceAllString(threadID, "_")
	if name == "" {
		name = "unknown"
	}

	return name
}

func New(dir string) core.RunLog {
	return &runLog{
		dir:  dir,
		pool: bpool.NewBufferPool(64),
	}
}

type runLog struct {
	dir  string
	pool *bpool.BufferPool
	mux  sync.Mutex
}

func (l *runLog) path(threadID string) string {
	return filepath.Join(l.dir, SanitizeThread(threadID)+ext)
}

func (l *runLog) Append(_ context.Context, threadID string, event *core.RunEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	line := make(map[string]any, len(event.Fields)+4)
	for k, v := range event.Fields {
		line[k] = v
	}

	line["timestamp"] = ts.UTC().Format(time.RFC3339Nano)
	line["thread_id"] = threadID
	line["run_id"] = event.RunID
	line["event"] = event.Event

	buf := l.pool.Get()
	defer l.pool.Put(buf)

	if err := json.NewEncoder(buf).Encode(line); err != nil {
		return err
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path(threadID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

func (l *runLog) ListThreads(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var threads []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			threads = append(threads, strings.TrimSuffix(e.Name(), ext))
		}
	}

	sort.Strings(threads)
	return threads, nil
}

// ReadThread returns every event of a thread, skipping lines that do not decode.
func (l *runLog) ReadThread(_ context.Context, threadID string) ([]map[string]any, error) {
	f, err := os.Open(l.path(threadID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}

		events = append(events, event)
	}

	return events, scanner.Err()
}
