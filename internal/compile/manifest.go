package compile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reflowdb/reflow/internal/query"
	"github.com/reflowdb/reflow/internal/schema"
)

// Manifest is the serialized form of a compilation, consumed by code
// generators and tooling.
type Manifest struct {
	Project     string    `yaml:"project"`
	GeneratedAt time.Time `yaml:"generatedAt"`

	Tables  []*schema.TableSpec `yaml:"tables"`
	Queries []*query.QuerySpec  `yaml:"queries"`

	// SharedResults maps "namespace/name" to the canonical shape.
	SharedResults map[string]*query.ResultNode `yaml:"sharedResults,omitempty"`
	// ViewShapes maps a view name to its nested result shape.
	ViewShapes map[string]*query.ResultNode `yaml:"viewShapes,omitempty"`
}

// BuildManifest assembles the manifest for a compilation result.
func BuildManifest(project string, res *Result) *Manifest {
	m := &Manifest{
		Project:     project,
		GeneratedAt: time.Now().UTC(),
		Tables:      res.Model.Tables(),
		Queries:     res.Queries,
		ViewShapes:  res.ViewShapes,
	}
	for _, key := range res.Shared.Names() {
		ns, name, ok := splitSharedKey(key)
		if !ok {
			continue
		}
		node, _ := res.Shared.Node(ns, name)
		if m.SharedResults == nil {
			m.SharedResults = make(map[string]*query.ResultNode)
		}
		m.SharedResults[key] = node
	}
	return m
}

// WriteManifest writes the manifest as YAML, atomically: the file is
// complete or absent, never half-written.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func splitSharedKey(key string) (namespace, name string, ok bool) {
	for i := range key {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
