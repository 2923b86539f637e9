package post

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is an ordered mapping with case-insensitive keys. The spelling
// of a key is the one used when it was first set.
type Frontmatter struct {
	keys   []string
	values map[string]any
}

// NewFrontmatter returns an empty Frontmatter.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{values: make(map[string]any)}
}

func fold(key string) string {
	return strings.ToLower(key)
}

// Get returns the value stored under key, ignoring case.
func (f *Frontmatter) Get(key string) (any, bool) {
	if f == nil || f.values == nil {
		return nil, false
	}
	v, ok := f.values[fold(key)]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (f *Frontmatter) GetString(key string) string {
	v, _ := f.Get(key)
	s, _ := v.(string)
	return s
}

// Has reports whether key is present, ignoring case.
func (f *Frontmatter) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Set stores v under key. Setting an existing key keeps its position.
func (f *Frontmatter) Set(key string, v any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	k := fold(key)
	if _, ok := f.values[k]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[k] = v
}

// Delete removes key, ignoring case.
func (f *Frontmatter) Delete(key string) {
	if f == nil || f.values == nil {
		return
	}
	k := fold(key)
	if _, ok := f.values[k]; !ok {
		return
	}
	delete(f.values, k)
	for i, existing := range f.keys {
		if fold(existing) == k {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (f *Frontmatter) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys.
func (f *Frontmatter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// MarshalYAML encodes the frontmatter as a mapping in insertion order.
func (f *Frontmatter) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range f.Keys() {
		v, _ := f.Get(k)
		var kn, vn yaml.Node
		if err := kn.Encode(k); err != nil {
			return nil, fmt.Errorf("encode key %q: %w", k, err)
		}
		if err := vn.Encode(v); err != nil {
			return nil, fmt.Errorf("encode value of %q: %w", k, err)
		}
		node.Content = append(node.Content, &kn, &vn)
	}
	return node, nil
}

// UnmarshalYAML decodes a YAML mapping, preserving key order.
func (f *Frontmatter) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("frontmatter must be a mapping, got %v", node.Tag)
	}
	f.keys = nil
	f.values = make(map[string]any, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		kn, vn := node.Content[i], node.Content[i+1]
		var v any
		if err := vn.Decode(&v); err != nil {
			return fmt.Errorf("decode %q: %w", kn.Value, err)
		}
		f.Set(kn.Value, v)
	}
	return nil
}
