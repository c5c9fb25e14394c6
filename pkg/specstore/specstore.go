// Package specstore loads FlockSpec definitions from YAML files
// (spec.md §4.1, §6.2). A Store holds every spec currently known to
// the process, keyed by name, and can be reloaded in place.
package specstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/types"
	"gopkg.in/yaml.v3"
)

// Store holds the currently loaded set of flock specs.
type Store struct {
	path  string
	specs map[string]*types.FlockSpec
}

// New loads specs from path (a single file or a directory of
// .yaml/.yml files) and returns a Store.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every spec file from disk, replacing the in-memory
// set atomically on success.
func (s *Store) Reload() error {
	files, err := specFiles(s.path)
	if err != nil {
		return err
	}

	specs := make(map[string]*types.FlockSpec)
	var invalid InvalidSpec

	for _, file := range files {
		docs, err := loadFile(file)
		if err != nil {
			invalid.Errors = append(invalid.Errors, fmt.Sprintf("%s: %v", file, err))
			continue
		}
		for _, spec := range docs {
			if errs := validate(spec); len(errs) > 0 {
				for _, e := range errs {
					invalid.Errors = append(invalid.Errors, fmt.Sprintf("%s: flock %q: %s", file, spec.Name, e))
				}
				continue
			}
			if _, dup := specs[spec.Name]; dup {
				log.Logger.Warn().Str("flock", spec.Name).Str("file", file).Msg("duplicate flock name, overwriting earlier definition")
			}
			specs[spec.Name] = spec
		}
	}

	if len(invalid.Errors) > 0 {
		return &invalid
	}

	s.specs = specs
	return nil
}

// Get returns the named spec, or false if it isn't loaded.
func (s *Store) Get(name string) (*types.FlockSpec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}

// List returns every loaded spec, sorted by name.
func (s *Store) List() []*types.FlockSpec {
	out := make([]*types.FlockSpec, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func specFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadFile decodes every YAML document in file into a FlockSpec,
// interpolating ${VAR} everywhere except inside a container's
// environment map (spec.md §4.1, §6.2).
func loadFile(file string) ([]*types.FlockSpec, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	var specs []*types.FlockSpec
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		interpolateNode(&doc, false)

		var spec types.FlockSpec
		if err := doc.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		specs = append(specs, &spec)
	}
	return specs, nil
}

// interpolateNode walks a YAML node tree, expanding ${VAR} in every
// scalar value except ones reachable through a key named "environment"
// (container environment values are injected at runtime verbatim).
func interpolateNode(n *yaml.Node, underEnvironment bool) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			interpolateNode(c, underEnvironment)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			childUnderEnvironment := underEnvironment || key.Value == "environment"
			interpolateNode(val, childUnderEnvironment)
		}
	case yaml.ScalarNode:
		if !underEnvironment {
			n.Value = os.Expand(n.Value, envLookup)
		}
	}
}

func envLookup(name string) string {
	return os.Getenv(name)
}

func validate(spec *types.FlockSpec) []string {
	var errs []string
	if spec.Name == "" {
		errs = append(errs, "name is required")
	}
	if len(spec.Containers) == 0 {
		errs = append(errs, "at least one container is required")
	}
	seen := make(map[string]bool, len(spec.Containers))
	for _, c := range spec.Containers {
		if c.Name == "" {
			errs = append(errs, "container name is required")
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Sprintf("duplicate container name %q", c.Name))
		}
		seen[c.Name] = true
		if c.Image == "" {
			errs = append(errs, fmt.Sprintf("container %q: image is required", c.Name))
		}
	}
	return errs
}
