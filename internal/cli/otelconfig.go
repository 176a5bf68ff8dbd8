package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tobert/jpm-dash/internal/filereader"
)

// OtelCollectorConfig represents the relevant parts of an OpenTelemetry Collector config.
// We only parse the exporters section to find file exporters.
type OtelCollectorConfig struct {
	Exporters map[string]FileExporter `yaml:"exporters"`
}

// FileExporter represents a file exporter configuration.
type FileExporter struct {
	Path string `yaml:"path"`
}

// ParseOtelConfig reads an OpenTelemetry Collector config file and returns the
// data directories its "file/" exporters write into. An exporter writing to
// <dir>/metrics/x.jsonl or <dir>/jobs/x.jsonl yields <dir>, the layout the
// file reader expects; any other path yields its parent directory.
func ParseOtelConfig(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read otel config: %w", err)
	}

	var config OtelCollectorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse otel config: %w", err)
	}

	dirSet := make(map[string]struct{})
	for name, exporter := range config.Exporters {
		if !strings.HasPrefix(name, "file/") || exporter.Path == "" {
			continue
		}
		dir := filepath.Dir(exporter.Path)
		switch filepath.Base(dir) {
		case filereader.MetricsDir, filereader.JobsDir:
			dir = filepath.Dir(dir)
		}
		dirSet[dir] = struct{}{}
	}

	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)

	return dirs, nil
}
