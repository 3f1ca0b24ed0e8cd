package home

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-pdfscribe")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-pdfscribe" {
			t.Errorf("expected path /tmp/test-pdfscribe, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-pdfscribe")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-pdfscribe/config.yaml"},
		{"JobsPath", dir.JobsPath(), "/tmp/test-pdfscribe/jobs"},
		{"JobDir", dir.JobDir("abc"), "/tmp/test-pdfscribe/jobs/abc"},
		{"ModelCachePath", dir.ModelCachePath(), "/tmp/test-pdfscribe/cache/huggingface"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "pdfscribe-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Fatal("directory should not exist yet")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	if _, err := os.Stat(dir.JobsPath()); err != nil {
		t.Errorf("jobs dir missing: %v", err)
	}
	if _, err := os.Stat(dir.ModelCachePath()); err != nil {
		t.Errorf("cache dir missing: %v", err)
	}
	if dir.ConfigExists() {
		t.Error("config should not exist")
	}
}

func TestPageName_SortsInPageOrder(t *testing.T) {
	names := []string{PageName(10), PageName(2), PageName(1), PageName(100)}
	sort.Strings(names)

	want := []string{"page_0001", "page_0002", "page_0010", "page_0100"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("sorted names = %v, want %v", names, want)
		}
	}
}
