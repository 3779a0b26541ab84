package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	logFileName     = "site-factory.log"
	backupSuffix    = ".backup"
	compressedExt   = ".gz"
	monthDirLayout  = "2006-01"
	backupTimestamp = "2006-01-02-15-04-05"
)

// FileSink appends records as JSON lines under <dir>/<YYYY-MM>/site-factory.log,
// rotating the active file once it grows past MaxBytes.
type FileSink struct {
	dir      string
	maxBytes int64
	now      func() time.Time
	mu       sync.Mutex
}

// NewFileSink creates the base directory if needed.
func NewFileSink(dir string, maxBytes int64) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileSink{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *FileSink) currentPath() string {
	return filepath.Join(s.dir, s.now().UTC().Format(monthDirLayout), logFileName)
}

// Write appends one record.
func (s *FileSink) Write(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.currentPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create month dir: %w", err)
	}
	if err := s.rotateIfNeeded(path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (s *FileSink) rotateIfNeeded(path string) error {
	if s.maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat audit log: %w", err)
	}
	if info.Size() <= s.maxBytes {
		return nil
	}
	if err := os.Rename(path, backupPath(path, s.now())); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	return nil
}

// backupPath names a rotated file after the rotation time. A second rotation
// within the same second gets a counter so no earlier backup is overwritten.
func backupPath(path string, at time.Time) string {
	stem := path + "." + at.UTC().Format(backupTimestamp)
	candidate := stem + backupSuffix
	for n := 1; taken(candidate); n++ {
		candidate = stem + "-" + strconv.Itoa(n) + backupSuffix
	}
	return candidate
}

func taken(backup string) bool {
	for _, p := range []string{backup, backup + compressedExt} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// Recent returns up to limit records from the active file, newest first.
func (s *FileSink) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var all []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	out := make([]Record, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// CompressBackups gzips rotated backups last modified before cutoff.
func (s *FileSink) CompressBackups(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backups []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, backupSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			backups = append(backups, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan audit backups: %w", err)
	}

	compressed := 0
	for _, path := range backups {
		if err := gzipFile(path); err != nil {
			return compressed, err
		}
		compressed++
	}
	return compressed, nil
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path+compressedExt, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create compressed backup: %w", err)
	}
	zw := gzip.NewWriter(dst)
	zw.Name = filepath.Base(path)
	if _, err := io.Copy(zw, src); err != nil {
		dst.Close()
		return fmt.Errorf("compress backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("compress backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close compressed backup: %w", err)
	}
	src.Close()
	return os.Remove(path)
}

// ClearOlderThan deletes log files last modified before cutoff and prunes
// month directories left empty. It returns the number of files removed.
func (s *FileSink) ClearOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	var dirs []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan audit dir: %w", err)
	}

	removed := 0
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
	}

	// deepest first so nested empties collapse
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return removed, nil
}

// MemorySink keeps records in memory. Used by tests and the memory backend.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Write(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Recent returns up to limit records, newest first.
func (m *MemorySink) Recent(limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, min(max(limit, 0), len(m.records)))
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// Records returns a copy of everything written, oldest first.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
