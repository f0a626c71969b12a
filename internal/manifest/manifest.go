// Package manifest reads sectioned key/value documents such as module
// manifests. A document is a YAML mapping of section name to a flat mapping of
// scalar keys and values; declaration order is preserved for both.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformed marks a document that was readable but not a valid
// section/key/value layout.
var ErrMalformed = errors.New("malformed manifest")

// Section is one named group of key/value pairs.
type Section struct {
	Name   string
	keys   []string
	values map[string]string
}

// Get returns the raw value for key.
func (s *Section) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// String returns the value for key or "" when absent.
func (s *Section) String(key string) string {
	v, _ := s.Get(key)
	return v
}

// Has reports whether key is declared, even with an empty value.
func (s *Section) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Bool interprets key as a flag. Unknown or missing values are false.
func (s *Section) Bool(key string) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true
	default:
		return false
	}
}

// Keys returns the section keys in declaration order.
func (s *Section) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Sections is a parsed document.
type Sections struct {
	order []string
	byKey map[string]*Section
}

// Section returns a section by name. Lookup is case-insensitive so
// "Dependency" and "dependency" name the same section.
func (s *Sections) Section(name string) (*Section, bool) {
	if s == nil {
		return nil, false
	}
	sec, ok := s.byKey[strings.ToLower(name)]
	return sec, ok
}

// Names returns section names in declaration order.
func (s *Sections) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Read loads and parses the document at path. A missing file yields an error
// wrapping fs.ErrNotExist; layout problems wrap ErrMalformed.
func Read(path string) (*Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a document from memory.
func Parse(data []byte) (*Sections, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := &Sections{byKey: make(map[string]*Section)}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return out, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of sections", ErrMalformed)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		nameNode, body := root.Content[i], root.Content[i+1]
		name := strings.TrimSpace(nameNode.Value)
		if name == "" {
			return nil, fmt.Errorf("%w: empty section name at line %d", ErrMalformed, nameNode.Line)
		}
		lower := strings.ToLower(name)
		if _, dup := out.byKey[lower]; dup {
			return nil, fmt.Errorf("%w: duplicate section %q", ErrMalformed, name)
		}

		sec, err := parseSection(name, body)
		if err != nil {
			return nil, err
		}
		out.order = append(out.order, name)
		out.byKey[lower] = sec
	}
	return out, nil
}

func parseSection(name string, body *yaml.Node) (*Section, error) {
	sec := &Section{Name: name, values: make(map[string]string)}

	// "section:" with nothing under it is an empty section.
	if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
		return sec, nil
	}
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: section %q must be a mapping", ErrMalformed, name)
	}

	for i := 0; i+1 < len(body.Content); i += 2 {
		k, v := body.Content[i], body.Content[i+1]
		key := strings.TrimSpace(k.Value)
		if k.Kind != yaml.ScalarNode || key == "" {
			return nil, fmt.Errorf("%w: section %q has an invalid key at line %d", ErrMalformed, name, k.Line)
		}
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: %s.%s must be a scalar value", ErrMalformed, name, key)
		}
		if _, dup := sec.values[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %s.%s", ErrMalformed, name, key)
		}
		value := v.Value
		if v.Tag == "!!null" {
			value = ""
		}
		sec.keys = append(sec.keys, key)
		sec.values[key] = value
	}
	return sec, nil
}
