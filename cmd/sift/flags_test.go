package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

func findCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "find"}
	addFindFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) error = %v", args, err)
	}
	return cmd
}

func TestFindRequest(t *testing.T) {
	cfg = &config.Config{Scan: config.ScanConfig{Recurse: true}}

	tests := []struct {
		name           string
		args           []string
		wantLimit      int
		wantMinSize    int64
		wantSortBy     string
		wantDescending bool
		wantErr        bool
	}{
		{
			name:           "default values",
			wantLimit:      50,
			wantSortBy:     "size",
			wantDescending: true, // size: largest first by default
		},
		{
			name:           "custom limit",
			args:           []string{"-n", "100"},
			wantLimit:      100,
			wantSortBy:     "size",
			wantDescending: true,
		},
		{
			name:           "zero limit is unlimited",
			args:           []string{"--limit", "0"},
			wantLimit:      -1,
			wantSortBy:     "size",
			wantDescending: true,
		},
		{
			name:           "sort by age",
			args:           []string{"--sort", "age"},
			wantLimit:      50,
			wantSortBy:     "age",
			wantDescending: true, // age: oldest first by default
		},
		{
			name:           "sort by path",
			args:           []string{"--sort", "path"},
			wantLimit:      50,
			wantSortBy:     "path",
			wantDescending: false, // path: A-Z by default
		},
		{
			name:           "reverse sort on size",
			args:           []string{"--reverse"},
			wantLimit:      50,
			wantSortBy:     "size",
			wantDescending: false,
		},
		{
			name:           "reverse sort on name",
			args:           []string{"--sort", "name", "-r"},
			wantLimit:      50,
			wantSortBy:     "name",
			wantDescending: true,
		},
		{
			name:           "min size",
			args:           []string{"--min-size", "100M"},
			wantLimit:      50,
			wantMinSize:    100 * types.MiB,
			wantSortBy:     "size",
			wantDescending: true,
		},
		{
			name:    "invalid min size",
			args:    []string{"--min-size", "lots"},
			wantErr: true,
		},
		{
			name:    "invalid sort field",
			args:    []string{"--sort", "color"},
			wantErr: true,
		},
		{
			name:    "invalid duration",
			args:    []string{"--older-than", "forever"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := findRequest(findCommand(t, tt.args...), "/data")
			if tt.wantErr {
				if err == nil {
					t.Errorf("findRequest() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("findRequest() unexpected error = %v", err)
			}
			if req.Root != "/data" || !req.Recurse {
				t.Errorf("Root, Recurse = %q, %v, want /data, true", req.Root, req.Recurse)
			}
			if req.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", req.Limit, tt.wantLimit)
			}
			if req.MinSize != tt.wantMinSize {
				t.Errorf("MinSize = %d, want %d", req.MinSize, tt.wantMinSize)
			}
			if req.SortBy != tt.wantSortBy {
				t.Errorf("SortBy = %q, want %q", req.SortBy, tt.wantSortBy)
			}
			if req.SortDescending != tt.wantDescending {
				t.Errorf("SortDescending = %v, want %v", req.SortDescending, tt.wantDescending)
			}
		})
	}
}

func TestFindRequestFilters(t *testing.T) {
	cfg = &config.Config{Scan: config.ScanConfig{Recurse: false}}

	req, err := findRequest(findCommand(t,
		"--ext", ".MP4,mkv",
		"-c", "video",
		"--include", "**/movies/**",
		"--older-than", "30d",
		"--newer-than", "1y",
		"--max-size", "2G",
		"--kind", "file",
		"--dupes-only",
	), "/data")
	if err != nil {
		t.Fatalf("findRequest() error = %v", err)
	}

	if req.Recurse {
		t.Error("Recurse = true, want the configured false")
	}
	if want := []string{"MP4", "mkv"}; !slices.Equal(req.Extensions, want) {
		t.Errorf("Extensions = %v, want %v", req.Extensions, want)
	}
	if want := []string{"video"}; !slices.Equal(req.Categories, want) {
		t.Errorf("Categories = %v, want %v", req.Categories, want)
	}
	if want := []string{"**/movies/**"}; !slices.Equal(req.Include, want) {
		t.Errorf("Include = %v, want %v", req.Include, want)
	}
	if req.OlderThan != 30*24*time.Hour {
		t.Errorf("OlderThan = %v, want 720h", req.OlderThan)
	}
	if req.NewerThan != 365*24*time.Hour {
		t.Errorf("NewerThan = %v, want 8760h", req.NewerThan)
	}
	if req.MaxSize != 2*types.GiB {
		t.Errorf("MaxSize = %d, want %d", req.MaxSize, 2*types.GiB)
	}
	if req.Kind != "file" || !req.DuplicatesOnly {
		t.Errorf("Kind, DuplicatesOnly = %q, %v", req.Kind, req.DuplicatesOnly)
	}
}

func TestResolveRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg = &config.Config{DefaultPath: dir}

	got, err := resolveRoot(nil)
	if err != nil || got != dir {
		t.Errorf("resolveRoot(nil) = %q, %v, want default path %q", got, err, dir)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	got, err = resolveRoot([]string{sub + "/"})
	if err != nil || got != sub {
		t.Errorf("resolveRoot(sub/) = %q, %v, want %q", got, err, sub)
	}

	if _, err := resolveRoot([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("resolveRoot(missing) error = nil, want error")
	}
	if _, err := resolveRoot([]string{file}); err == nil {
		t.Error("resolveRoot(file) error = nil, want error")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 10*time.Minute, "2h 10m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
