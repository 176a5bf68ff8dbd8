// Package mcpserver exposes the job dashboard to agents over the Model
// Context Protocol: tools to read and reload the view, manage file sources,
// and inspect buffers, plus read-only resources.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/jpm-dash/internal/dashboard"
	"github.com/tobert/jpm-dash/internal/filereader"
	"github.com/tobert/jpm-dash/internal/storage"
	"github.com/tobert/jpm-dash/internal/timewindow"
)

// Server wraps the MCP server around a dashboard controller and its store.
type Server struct {
	mcpServer  *mcp.Server
	controller *dashboard.Controller
	store      *storage.Store
	opts       ServerOptions

	fileSourcesMu sync.RWMutex
	fileSources   map[string]*filereader.FileSource
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	// Window is the trailing range used when a reload names no range.
	Window time.Duration
	// OTLPEndpoint reports where cluster metrics can be sent, if a receiver runs.
	OTLPEndpoint func() string
	Verbose      bool
}

// DefaultWindow is the reload range when none is configured.
const DefaultWindow = 24 * time.Hour

// NewServer creates an MCP server for controller, which must read from store.
func NewServer(controller *dashboard.Controller, store *storage.Store, opts ServerOptions) (*Server, error) {
	if controller == nil {
		return nil, errors.New("dashboard controller cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.OTLPEndpoint == nil {
		opts.OTLPEndpoint = func() string { return "" }
	}

	s := &Server{
		controller:  controller,
		store:       store,
		opts:        opts,
		fileSources: make(map[string]*filereader.FileSource),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "jpm-dash",
		Title:   "YARN Job Dashboard",
		Version: "0.1.0",
	}, &mcp.ServerOptions{
		Instructions: fmt.Sprintf(`YARN job dashboard for site %q. Cluster metrics arrive over OTLP or JSONL files; the dashboard buckets them on an aligned time grid.

Workflow: reload_dashboard (optionally with start/end) -> get_dashboard -> get_job_states.

Tools: get_dashboard, get_job_states, reload_dashboard, add_file_source/remove_file_source, get_stats.
Resources: jpm://dashboard, jpm://stats, jpm://file-sources.`, controller.Site()),
	})

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves MCP on stdio until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	s.stopAllFileSources()
	return err
}

// MCPServer returns the underlying mcp.Server for use with the streamable
// HTTP handler.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Shutdown releases file sources when serving over HTTP.
func (s *Server) Shutdown() {
	s.stopAllFileSources()
}

// window returns the default trailing range ending now.
func (s *Server) window() timewindow.Range {
	return timewindow.Last(s.opts.Window, s.controller.Now())
}

// AddFileSource starts tailing a JSONL directory into the store.
func (s *Server) AddFileSource(ctx context.Context, directory string, activeOnly bool) error {
	s.fileSourcesMu.Lock()
	defer s.fileSourcesMu.Unlock()

	if _, exists := s.fileSources[directory]; exists {
		return fmt.Errorf("directory %s is already being watched", directory)
	}

	fs, err := filereader.New(filereader.Config{
		Directory:   directory,
		Verbose:     s.opts.Verbose,
		ActiveOnly:  activeOnly,
		DefaultSite: s.controller.Site(),
	}, s.store)
	if err != nil {
		return fmt.Errorf("failed to create file source: %w", err)
	}
	if err := fs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file source: %w", err)
	}

	s.fileSources[directory] = fs
	return nil
}

// RemoveFileSource stops tailing a directory. The source is stopped outside
// the lock.
func (s *Server) RemoveFileSource(directory string) error {
	s.fileSourcesMu.Lock()
	fs, exists := s.fileSources[directory]
	if !exists {
		s.fileSourcesMu.Unlock()
		return fmt.Errorf("directory %s is not being watched", directory)
	}
	delete(s.fileSources, directory)
	s.fileSourcesMu.Unlock()

	fs.Stop()
	return nil
}

// ListFileSources returns the watched directories, sorted.
func (s *Server) ListFileSources() []string {
	s.fileSourcesMu.RLock()
	defer s.fileSourcesMu.RUnlock()

	dirs := make([]string, 0, len(s.fileSources))
	for dir := range s.fileSources {
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)
	return dirs
}

// FileSourceStats returns stats for every file source.
func (s *Server) FileSourceStats() []filereader.Stats {
	s.fileSourcesMu.RLock()
	defer s.fileSourcesMu.RUnlock()

	stats := make([]filereader.Stats, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		stats = append(stats, fs.Stats())
	}
	slices.SortFunc(stats, func(a, b filereader.Stats) int {
		return strings.Compare(a.Directory, b.Directory)
	})
	return stats
}

func (s *Server) stopAllFileSources() {
	s.fileSourcesMu.Lock()
	sources := make([]*filereader.FileSource, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		sources = append(sources, fs)
	}
	clear(s.fileSources)
	s.fileSourcesMu.Unlock()

	for _, fs := range sources {
		fs.Stop()
	}
}
