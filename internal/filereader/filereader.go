// Package filereader ingests cluster data from JSONL files: job records
// written one per line by a job exporter, and OTLP metrics written by the
// OpenTelemetry Collector's file exporter. Files are tailed with fsnotify so
// the store sees new lines as they are appended.
package filereader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tobert/jpm-dash/internal/jpm"
)

// jsonlLineMax bounds a single JSONL line. OTLP batches can be large.
const jsonlLineMax = 10 * 1024 * 1024

// Subdirectories of the data directory, one per record kind.
const (
	JobsDir    = "jobs"
	MetricsDir = "metrics"
)

// StorageReceiver is what the reader feeds.
type StorageReceiver interface {
	ReceiveJobs(ctx context.Context, jobs []jpm.JobRecord) error
	ReceiveMetrics(ctx context.Context, resourceMetrics []*metricspb.ResourceMetrics) error
}

// Config holds configuration for a FileSource.
type Config struct {
	Directory string // contains jobs/ and/or metrics/
	Verbose   bool

	// ActiveOnly loads only jobs.jsonl and metrics.jsonl, skipping rotated
	// archives such as metrics-2025-12-09T13-10-56.jsonl.
	ActiveOnly bool

	// DefaultSite is assigned to job lines that carry no site.
	DefaultSite string
}

// FileSource tails a directory of JSONL files into storage.
type FileSource struct {
	cfg     Config
	storage StorageReceiver
	watcher *fsnotify.Watcher

	mu          sync.Mutex
	fileOffsets map[string]int64
	lines       map[string]int // kind -> lines ingested
	badLines    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a FileSource for cfg.Directory.
func New(cfg Config, storage StorageReceiver) (*FileSource, error) {
	if cfg.Directory == "" {
		return nil, errors.New("directory is required")
	}
	if storage == nil {
		return nil, errors.New("storage cannot be nil")
	}

	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", cfg.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Directory)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FileSource{
		cfg:         cfg,
		storage:     storage,
		watcher:     watcher,
		fileOffsets: make(map[string]int64),
		lines:       make(map[string]int),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start watches the kind subdirectories and loads what is already there.
// It returns after the initial load; tailing continues in the background
// until Stop.
func (fs *FileSource) Start(ctx context.Context) error {
	if fs.cfg.Verbose {
		log.Printf("📁 FileSource: starting with directory %s\n", fs.cfg.Directory)
	}

	for _, kind := range []string{JobsDir, MetricsDir} {
		dir := filepath.Join(fs.cfg.Directory, kind)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fs.watcher.Add(dir); err != nil {
			log.Printf("⚠️  FileSource: could not watch %s: %v\n", dir, err)
		} else if fs.cfg.Verbose {
			log.Printf("📁 FileSource: watching %s\n", dir)
		}
	}

	if err := fs.loadInitialData(ctx); err != nil {
		return fmt.Errorf("initial data load failed: %w", err)
	}

	fs.wg.Add(1)
	go fs.watchLoop()
	return nil
}

// Stop stops the watcher and waits for the tail loop to exit.
func (fs *FileSource) Stop() {
	fs.cancel()
	fs.watcher.Close()
	fs.wg.Wait()
}

// Directory returns the base directory being watched.
func (fs *FileSource) Directory() string {
	return fs.cfg.Directory
}

func (fs *FileSource) loadInitialData(ctx context.Context) error {
	for _, kind := range []string{JobsDir, MetricsDir} {
		files, err := fs.findJSONLFiles(filepath.Join(fs.cfg.Directory, kind))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		for _, file := range files {
			count, err := fs.load(ctx, kind, file)
			if err != nil {
				log.Printf("⚠️  FileSource: error loading %s: %v\n", file, err)
				continue
			}
			if fs.cfg.Verbose && count > 0 {
				log.Printf("📁 FileSource: loaded %d %s lines from %s\n", count, kind, filepath.Base(file))
			}
		}
	}
	return nil
}

func isJSONL(name string) bool {
	return strings.HasSuffix(name, ".jsonl")
}

// findJSONLFiles returns the directory's .jsonl files, oldest first.
func (fs *FileSource) findJSONLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	active := filepath.Base(dir) + ".jsonl"

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isJSONL(name) {
			continue
		}
		if fs.cfg.ActiveOnly && name != active {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, name), modTime: info.ModTime()})
	}

	slices.SortStableFunc(files, func(a, b fileInfo) int {
		return a.modTime.Compare(b.modTime)
	})

	result := make([]string, len(files))
	for i, f := range files {
		result[i] = f.path
	}
	return result, nil
}

func (fs *FileSource) load(ctx context.Context, kind, path string) (int, error) {
	switch kind {
	case JobsDir:
		return fs.processFile(ctx, kind, path, func(line []byte) error {
			job, err := decodeJob(line, fs.cfg.DefaultSite)
			if err != nil {
				return err
			}
			return fs.storage.ReceiveJobs(ctx, []jpm.JobRecord{job})
		})
	case MetricsDir:
		return fs.processFile(ctx, kind, path, func(line []byte) error {
			var data metricspb.MetricsData
			if err := protojson.Unmarshal(line, &data); err != nil {
				return fmt.Errorf("parse metric JSON: %w", err)
			}
			if len(data.ResourceMetrics) == 0 {
				return nil
			}
			return fs.storage.ReceiveMetrics(ctx, data.ResourceMetrics)
		})
	default:
		return 0, nil
	}
}

// processFile reads complete lines from the last known offset. A trailing
// line without a newline is left for the next read. A file shorter than
// the recorded offset has been truncated or replaced and is read again
// from the start.
func (fs *FileSource) processFile(ctx context.Context, kind, path string, handler func([]byte) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}

	fs.mu.Lock()
	offset := fs.fileOffsets[path]
	fs.mu.Unlock()

	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	count, bad := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			break
		}

		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break // partial or empty tail
		}
		if err != nil {
			return count, fmt.Errorf("reading %s: %w", path, err)
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > jsonlLineMax {
			bad++
			continue
		}
		if err := handler(line); err != nil {
			bad++
			if fs.cfg.Verbose {
				log.Printf("⚠️  FileSource: error processing line in %s: %v\n", filepath.Base(path), err)
			}
			continue
		}
		count++
	}

	fs.mu.Lock()
	fs.fileOffsets[path] = offset
	fs.lines[kind] += count
	fs.badLines += bad
	fs.mu.Unlock()

	return count, ctx.Err()
}

func (fs *FileSource) watchLoop() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.ctx.Done():
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isJSONL(event.Name) {
				continue
			}
			if fs.cfg.ActiveOnly && filepath.Base(event.Name) != filepath.Base(filepath.Dir(event.Name))+".jsonl" {
				continue
			}

			kind := filepath.Base(filepath.Dir(event.Name))
			count, err := fs.load(fs.ctx, kind, event.Name)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("⚠️  FileSource: error reading %s: %v\n", event.Name, err)
			} else if fs.cfg.Verbose && count > 0 {
				log.Printf("📁 FileSource: loaded %d new %s lines from %s\n", count, kind, filepath.Base(event.Name))
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  FileSource: watcher error: %v\n", err)
		}
	}
}

// Stats describes the file source.
type Stats struct {
	Directory    string         `json:"directory"`
	WatchedDirs  []string       `json:"watched_dirs"`
	FilesTracked int            `json:"files_tracked"`
	Lines        map[string]int `json:"lines"`
	BadLines     int            `json:"bad_lines"`
}

// Stats returns current statistics.
func (fs *FileSource) Stats() Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	lines := make(map[string]int, len(fs.lines))
	for k, v := range fs.lines {
		lines[k] = v
	}
	return Stats{
		Directory:    fs.cfg.Directory,
		WatchedDirs:  fs.watcher.WatchList(),
		FilesTracked: len(fs.fileOffsets),
		Lines:        lines,
		BadLines:     fs.badLines,
	}
}
