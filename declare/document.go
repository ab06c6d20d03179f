// Package declare builds models from declarations: YAML or msgpack
// documents describing entity types with no Go struct behind them.
package declare

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/syssam/orbit"
)

// Format is the encoding of a document.
type Format string

// Supported formats.
const (
	YAML    Format = "yaml"
	Msgpack Format = "msgpack"
)

// FormatOf returns the format of a file from its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".msgpack":
		return Msgpack, nil
	}
	return "", orbit.NewNotFoundError("declaration format", filepath.Ext(path))
}

// Document declares the entity types of a model.
type Document struct {
	Name        string            `yaml:"name,omitempty" msgpack:"name,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" msgpack:"annotations,omitempty"`
	Entities    []Entity          `yaml:"entities" msgpack:"entities"`
}

// Entity declares an entity type.
type Entity struct {
	Name        string            `yaml:"name" msgpack:"name"`
	Properties  []Property        `yaml:"properties,omitempty" msgpack:"properties,omitempty"`
	Key         []string          `yaml:"key,omitempty" msgpack:"key,omitempty"`
	Indexes     [][]string        `yaml:"indexes,omitempty" msgpack:"indexes,omitempty"`
	References  []Relationship    `yaml:"references,omitempty" msgpack:"references,omitempty"`
	Collections []Relationship    `yaml:"collections,omitempty" msgpack:"collections,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" msgpack:"annotations,omitempty"`
}

// Property declares a property. Type is one of int, int32, int64,
// string, bool, float64, uuid, time or bytes.
type Property struct {
	Name             string `yaml:"name" msgpack:"name"`
	Type             string `yaml:"type" msgpack:"type"`
	Nullable         bool   `yaml:"nullable,omitempty" msgpack:"nullable,omitempty"`
	ConcurrencyToken bool   `yaml:"concurrency_token,omitempty" msgpack:"concurrency_token,omitempty"`
}

// Relationship declares a relationship from the navigation of the
// declaring entity. Target defaults to the navigation name, singularized
// for collections.
type Relationship struct {
	Navigation   string   `yaml:"navigation" msgpack:"navigation"`
	Target       string   `yaml:"target,omitempty" msgpack:"target,omitempty"`
	Inverse      string   `yaml:"inverse,omitempty" msgpack:"inverse,omitempty"`
	OneToOne     bool     `yaml:"one_to_one,omitempty" msgpack:"one_to_one,omitempty"`
	Dependent    string   `yaml:"dependent,omitempty" msgpack:"dependent,omitempty"`
	ForeignKey   []string `yaml:"foreign_key,omitempty" msgpack:"foreign_key,omitempty"`
	PrincipalKey []string `yaml:"principal_key,omitempty" msgpack:"principal_key,omitempty"`
	Required     *bool    `yaml:"required,omitempty" msgpack:"required,omitempty"`
}

// Parse decodes a document. YAML documents reject unknown fields.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("declare: decode yaml: %w", err)
		}
	case Msgpack:
		if err := msgpack.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("declare: decode msgpack: %w", err)
		}
	default:
		return nil, orbit.NewNotFoundError("declaration format", string(format))
	}
	return &doc, nil
}

// Load reads and decodes the document at path.
func Load(path string) (*Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, format)
}

// Encode encodes the document.
func (d *Document) Encode(format Format) ([]byte, error) {
	switch format {
	case YAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Msgpack:
		return msgpack.Marshal(d)
	}
	return nil, orbit.NewNotFoundError("declaration format", string(format))
}

// Save encodes the document in the format of path and writes it.
func (d *Document) Save(path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := d.Encode(format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
