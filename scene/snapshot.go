package scene

import (
	"io"
	"strings"

	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SnapshotVersion is the document version written by Freeze.
const SnapshotVersion = 1

// Snapshot is the persisted form of a scene. Entities are listed parents
// first and addressed by path; their numeric ids are not saved.
type Snapshot struct {
	Version  int                  `yaml:"version" json:"version"`
	Entities []EntitySnapshot     `yaml:"entities" json:"entities"`
	Systems  map[string]ecs.State `yaml:"systems,omitempty" json:"systems,omitempty"`
}

// EntitySnapshot holds the present components of one entity.
type EntitySnapshot struct {
	Path       string                `yaml:"path" json:"path"`
	Components map[string]ecs.Record `yaml:"components,omitempty" json:"components,omitempty"`
}

// WriteYAML encodes the snapshot as YAML.
func (s *Snapshot) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return eris.Wrap(err, "encode snapshot")
	}
	return enc.Close()
}

// ReadYAML decodes a YAML snapshot. Structural validation happens in Thaw.
func ReadYAML(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, eris.Wrapf(ecs.ErrConfiguration, "decode snapshot: %v", err)
	}
	return &s, nil
}

func splitPath(path string) (parent, name string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// validate checks the snapshot against the registry without touching any
// scene.
func (s *Snapshot) validate(registry *ecs.ComponentRegistry) error {
	if s.Version != SnapshotVersion {
		return eris.Wrapf(ecs.ErrConfiguration, "unsupported snapshot version %d", s.Version)
	}

	seen := make(map[string]bool, len(s.Entities))
	for i, e := range s.Entities {
		parent, _ := splitPath(e.Path)
		for _, name := range strings.Split(e.Path, "/") {
			if err := validateName(name); err != nil {
				return eris.Wrapf(err, "entity %d path %q", i, e.Path)
			}
		}
		if seen[e.Path] {
			return eris.Wrapf(ecs.ErrConfiguration, "duplicate entity path %q", e.Path)
		}
		if parent != "" && !seen[parent] {
			return eris.Wrapf(ecs.ErrConfiguration, "entity %q listed before its parent", e.Path)
		}
		seen[e.Path] = true

		for component, rec := range e.Components {
			cid, ok := registry.Lookup(component)
			if !ok {
				return eris.Wrapf(ecs.ErrConfiguration, "entity %q: unknown component %q", e.Path, component)
			}
			schema, _ := registry.Schema(cid)
			if err := schema.ValidateRecord(rec); err != nil {
				return eris.Wrapf(err, "entity %q", e.Path)
			}
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return eris.Wrap(ecs.ErrConfiguration, "empty entity name")
	}
	if strings.Contains(name, "/") {
		return eris.Wrapf(ecs.ErrConfiguration, "entity name %q contains '/'", name)
	}
	return nil
}
