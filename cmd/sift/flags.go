package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/filter"
	"github.com/jamesainslie/sift/pkg/sift/output"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// resolveRoot returns the absolute root named by args, or the configured
// default path.
func resolveRoot(args []string) (string, error) {
	path := cfg.DefaultPath
	if len(args) > 0 {
		path = args[0]
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("path does not exist: %s", root)
		}
		return "", fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", root)
	}
	return root, nil
}

// scanOptions returns the traversal options from config and flags.
func scanOptions() (types.ScanOptions, error) {
	return cfg.ScanOptions()
}

// findRequest builds a query from the find flags.
func findRequest(cmd *cobra.Command, root string) (*siftv1.FindRequest, error) {
	fs := cmd.Flags()
	req := &siftv1.FindRequest{
		Root:    root,
		Recurse: cfg.Scan.Recurse,
	}

	for flag, dst := range map[string]*int64{"min-size": &req.MinSize, "max-size": &req.MaxSize} {
		s, _ := fs.GetString(flag)
		if s == "" {
			continue
		}
		n, err := types.ParseSize(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", flag, s, err)
		}
		*dst = n
	}

	olderThan, _ := fs.GetString("older-than")
	if olderThan != "" {
		d, err := filter.ParseDuration(olderThan)
		if err != nil {
			return nil, fmt.Errorf("invalid older-than %q: %w", olderThan, err)
		}
		req.OlderThan = d
	}
	newerThan, _ := fs.GetString("newer-than")
	if newerThan != "" {
		d, err := filter.ParseDuration(newerThan)
		if err != nil {
			return nil, fmt.Errorf("invalid newer-than %q: %w", newerThan, err)
		}
		req.NewerThan = d
	}

	req.Include, _ = fs.GetStringSlice("include")
	req.Categories, _ = fs.GetStringSlice("category")
	exts, _ := fs.GetStringSlice("ext")
	for _, ext := range exts {
		if ext = strings.TrimSpace(ext); ext != "" {
			req.Extensions = append(req.Extensions, strings.TrimPrefix(ext, "."))
		}
	}

	req.Kind, _ = fs.GetString("kind")
	req.DuplicatesOnly, _ = fs.GetBool("dupes-only")

	req.SortBy, _ = fs.GetString("sort")
	if req.SortBy == "" {
		req.SortBy = "size"
	}
	field, err := filter.ParseSortField(req.SortBy)
	if err != nil {
		return nil, err
	}
	// Size and age read largest and oldest first; names read A-Z.
	reverse, _ := fs.GetBool("reverse")
	req.SortDescending = !reverse
	if field == filter.SortPath || field == filter.SortName {
		req.SortDescending = reverse
	}

	req.Limit, _ = fs.GetInt("limit")
	if req.Limit == 0 {
		req.Limit = -1
	}
	return req, nil
}

// formatList names the registered output formats.
func formatList() string {
	return strings.Join(output.Available(), ", ")
}
