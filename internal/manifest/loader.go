// Package manifest loads resource documents from YAML and JSON files.
// JSON is parsed through the YAML decoder, which accepts it as a subset.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vk/manifold/internal/ctxlog"
	"github.com/vk/manifold/internal/resource"
)

// Loader reads manifest files from the filesystem.
type Loader struct{}

// NewLoader creates a filesystem manifest loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads every manifest under the given paths (files or directories,
// searched recursively) and returns the decoded resources in file order.
// Each resource is stamped with its source file, an origin URI, and
// generation depth zero.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]*resource.Resource, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findManifestFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered manifest files.", "count", len(files))

	var out []*resource.Resource
	for _, file := range files {
		resources, err := loadFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
	}
	return out, nil
}

func loadFile(path string) ([]*resource.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest %s: %w", path, err)
	}
	defer f.Close()

	var out []*resource.Resource
	dec := yaml.NewDecoder(f)
	for docIndex := 0; ; docIndex++ {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parsing manifest %s (document %d): %w", path, docIndex, err)
		}
		if doc == nil {
			continue
		}

		res, err := resource.FromDoc(doc)
		if err != nil {
			return nil, fmt.Errorf("manifest %s (document %d): %w", path, docIndex, err)
		}
		if err := res.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %s (document %d): %w", path, docIndex, err)
		}

		res.Meta.Source = path
		if res.Meta.URI == "" {
			res.Meta.URI = fmt.Sprintf("%s#%d", path, docIndex)
		}
		res.Meta.GenerationDepth = 0
		out = append(out, res)
	}
	return out, nil
}

// findManifestFiles expands files and directories into a sorted list of
// manifest paths so load order is deterministic.
func findManifestFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("manifest path %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		var found []string
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isManifest(p) {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking manifest directory %s: %w", path, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func isManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
