package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the pdfscribe home directory.
	DefaultDirName = ".pdfscribe"

	// JobsDirName is the subdirectory holding per-job working directories.
	JobsDirName = "jobs"

	// CacheDirName is the subdirectory for model weights shared with engine containers.
	CacheDirName = "cache"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the pdfscribe home directory structure.
//
//	~/.pdfscribe/
//	  config.yaml
//	  jobs/<job-id>/input.pdf
//	  jobs/<job-id>/output/{images,markdown}
//	  cache/huggingface
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.pdfscribe).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// JobsPath returns the root under which job working directories are created.
func (d *Dir) JobsPath() string {
	return filepath.Join(d.path, JobsDirName)
}

// JobDir returns the working directory for a single job.
func (d *Dir) JobDir(jobID string) string {
	return filepath.Join(d.JobsPath(), jobID)
}

// ModelCachePath returns the host path mounted as the Hugging Face cache
// inside managed engine containers.
func (d *Dir) ModelCachePath() string {
	return filepath.Join(d.path, CacheDirName, "huggingface")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, p := range []string{d.JobsPath(), d.ModelCachePath()} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// PageName returns the sortable stem used for a page's image and markdown files.
// Page numbers are 1-indexed.
func PageName(pageNum int) string {
	return fmt.Sprintf("page_%04d", pageNum)
}
