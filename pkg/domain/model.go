package domain

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// AttributeType enumerates the value kinds an attribute may hold.
type AttributeType string

// Supported attribute types.
const (
	TypeString AttributeType = "string"
	TypeInt    AttributeType = "int"
	TypeFloat  AttributeType = "float"
	TypeBool   AttributeType = "bool"
	TypeTime   AttributeType = "time"
	TypeBytes  AttributeType = "bytes"
)

// DeleteRule controls what happens to related objects when an object is deleted.
type DeleteRule string

// Supported delete rules.
const (
	// DeleteNullify removes the deleted object from the inverse relationship.
	DeleteNullify DeleteRule = "nullify"
	// DeleteCascade deletes the related objects as well.
	DeleteCascade DeleteRule = "cascade"
	// DeleteDeny refuses the delete while related objects exist.
	DeleteDeny DeleteRule = "deny"
)

// Attribute describes one scalar attribute of an entity.
type Attribute struct {
	Name     string        `yaml:"name" json:"name"`
	Type     AttributeType `yaml:"type" json:"type"`
	Optional bool          `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Relationship describes a link from one entity to another. Relationships
// with an inverse are maintained on both sides by the managed object API.
type Relationship struct {
	Name        string     `yaml:"name" json:"name"`
	Destination string     `yaml:"destination" json:"destination"`
	Inverse     string     `yaml:"inverse,omitempty" json:"inverse,omitempty"`
	ToMany      bool       `yaml:"to_many,omitempty" json:"to_many,omitempty"`
	Ordered     bool       `yaml:"ordered,omitempty" json:"ordered,omitempty"`
	DeleteRule  DeleteRule `yaml:"delete_rule,omitempty" json:"delete_rule,omitempty"`
}

// EntityModel describes one entity of the schema.
type EntityModel struct {
	Name          string         `yaml:"name" json:"name"`
	Attributes    []Attribute    `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Relationships []Relationship `yaml:"relationships,omitempty" json:"relationships,omitempty"`
}

// Attribute returns the named attribute.
func (e *EntityModel) Attribute(name string) (Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Relationship returns the named relationship.
func (e *EntityModel) Relationship(name string) (Relationship, bool) {
	for _, r := range e.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// Model is the schema of the object graph. A Model is immutable once built by
// NewModel or one of the loaders and may be shared across goroutines.
type Model struct {
	Entities []EntityModel `yaml:"entities" json:"entities"`

	index map[string]*EntityModel
}

// ErrInvalidModel is wrapped by every schema validation failure.
var ErrInvalidModel = errors.New("invalid model")

// NewModel validates the entities and returns an indexed model.
func NewModel(entities ...EntityModel) (*Model, error) {
	m := &Model{Entities: entities}
	if err := m.build(); err != nil {
		return nil, err
	}
	return m, nil
}

// MustModel is like NewModel but panics on an invalid schema. Intended for
// package level fixtures.
func MustModel(entities ...EntityModel) *Model {
	m, err := NewModel(entities...)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseModel decodes a YAML schema document.
func ParseModel(r io.Reader) (*Model, error) {
	var m Model
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadModel reads a YAML schema file.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied schema path
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseModel(f)
}

// Entity looks up an entity by name.
func (m *Model) Entity(name string) (*EntityModel, bool) {
	if m == nil {
		return nil, false
	}
	e, ok := m.index[name]
	return e, ok
}

// EntityNames returns entity names in declaration order.
func (m *Model) EntityNames() []string {
	names := make([]string, 0, len(m.Entities))
	for _, e := range m.Entities {
		names = append(names, e.Name)
	}
	return names
}

func (m *Model) build() error {
	m.index = make(map[string]*EntityModel, len(m.Entities))
	for i := range m.Entities {
		e := &m.Entities[i]
		if e.Name == "" {
			return fmt.Errorf("%w: entity %d has no name", ErrInvalidModel, i)
		}
		if _, dup := m.index[e.Name]; dup {
			return fmt.Errorf("%w: duplicate entity %q", ErrInvalidModel, e.Name)
		}
		m.index[e.Name] = e
	}
	for _, e := range m.index {
		seen := make(map[string]bool, len(e.Attributes)+len(e.Relationships))
		for _, a := range e.Attributes {
			if seen[a.Name] || a.Name == "" {
				return fmt.Errorf("%w: %s has empty or duplicate property %q", ErrInvalidModel, e.Name, a.Name)
			}
			seen[a.Name] = true
			switch a.Type {
			case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime, TypeBytes:
			default:
				return fmt.Errorf("%w: %s.%s has unknown type %q", ErrInvalidModel, e.Name, a.Name, a.Type)
			}
		}
		for i := range e.Relationships {
			r := &e.Relationships[i]
			if seen[r.Name] || r.Name == "" {
				return fmt.Errorf("%w: %s has empty or duplicate property %q", ErrInvalidModel, e.Name, r.Name)
			}
			seen[r.Name] = true
			if r.DeleteRule == "" {
				r.DeleteRule = DeleteNullify
			}
			switch r.DeleteRule {
			case DeleteNullify, DeleteCascade, DeleteDeny:
			default:
				return fmt.Errorf("%w: %s.%s has unknown delete rule %q", ErrInvalidModel, e.Name, r.Name, r.DeleteRule)
			}
			dest, ok := m.index[r.Destination]
			if !ok {
				return fmt.Errorf("%w: %s.%s points to unknown entity %q", ErrInvalidModel, e.Name, r.Name, r.Destination)
			}
			if r.Inverse == "" {
				continue
			}
			inv, ok := dest.Relationship(r.Inverse)
			if !ok {
				return fmt.Errorf("%w: %s.%s names missing inverse %s.%s", ErrInvalidModel, e.Name, r.Name, dest.Name, r.Inverse)
			}
			if inv.Destination != e.Name || inv.Inverse != r.Name {
				return fmt.Errorf("%w: %s.%s and %s.%s are not mutual inverses", ErrInvalidModel, e.Name, r.Name, dest.Name, r.Inverse)
			}
		}
	}
	return nil
}
