package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ferroci/pkg/utils"
)

// LogStorage keeps the output of each step in its own file:
// <BaseDir>/<run>/<job>_<index>.log
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// Path returns where the output of a step is stored.
func (ls *LogStorage) Path(runID, job string, index int) string {
	if runID == "" {
		runID = "local"
	}
	return filepath.Join(ls.BaseDir, fileName(runID), fmt.Sprintf("%s_%d.log", fileName(job), index))
}

// fileName keeps safe names as they are and suffixes altered ones with a
// hash of the original, so "build/linux" and "buildlinux" get different files.
func fileName(name string) string {
	clean := sanitize(name)
	if clean == name {
		return clean
	}
	return clean + "-" + utils.HashBytes([]byte(name))[:8]
}

// OpenStep creates the log file for a step and writes the command as its first line.
func (ls *LogStorage) OpenStep(runID, job string, index int, step string) (io.WriteCloser, error) {
	path := ls.Path(runID, job, index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open step log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "$ %s\n", step); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: write step log: %w", err)
	}
	return f, nil
}

// sanitize removes special characters from names used in file paths
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 || string(clean) == "." || string(clean) == ".." {
		return "step"
	}
	return string(clean)
}
