// Package checkerspec loads CheckerSpecs from a directory of YAML files,
// one file per work item: <dir>/<workItemID>.yaml (or .yml / .json).
package checkerspec

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tutu-network/convoy/internal/domain"
)

var extensions = []string{".yaml", ".yml", ".json"}

// Dir is a domain.CheckerSpecLoader backed by a directory.
type Dir struct {
	root string
}

// NewDir returns a loader rooted at dir. The directory need not exist; a
// missing directory simply has no specs.
func NewDir(dir string) *Dir {
	return &Dir{root: dir}
}

// Root returns the spec directory.
func (d *Dir) Root() string { return d.root }

// Load returns the spec for workItemID, or (nil, nil) when none is registered.
func (d *Dir) Load(workItemID string) (*domain.CheckerSpec, error) {
	if workItemID == "" || strings.ContainsAny(workItemID, `/\`) || strings.HasPrefix(workItemID, ".") {
		return nil, fmt.Errorf("checkerspec: invalid work item id %q", workItemID)
	}
	if d.root == "" {
		return nil, nil
	}
	for _, ext := range extensions {
		path := filepath.Join(d.root, workItemID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checkerspec: read %s: %w", path, err)
		}
		spec, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("checkerspec: %s: %w", path, err)
		}
		if spec.WorkItemID == "" {
			spec.WorkItemID = workItemID
		}
		if spec.WorkItemID != workItemID {
			return nil, fmt.Errorf("checkerspec: %s declares work item %q", path, spec.WorkItemID)
		}
		if spec.ID == "" {
			spec.ID = workItemID
		}
		return spec, nil
	}
	return nil, nil
}

// Parse decodes a spec from YAML (or JSON) bytes and checks it is usable.
func Parse(data []byte) (*domain.CheckerSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("spec payload is empty")
	}
	var spec domain.CheckerSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	seen := make(map[string]bool, len(spec.Checks))
	for i, c := range spec.Checks {
		if c.Name == "" {
			return nil, fmt.Errorf("check %d has no name", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate check %q", c.Name)
		}
		seen[c.Name] = true
	}
	if spec.ID == "" {
		spec.ID = spec.WorkItemID
	}
	return &spec, nil
}
