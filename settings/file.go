package settings

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads an imapd.conf style settings file made of "key: value"
// lines and "#" comments. Values must be scalars; lists are written as a
// single whitespace-separated string, the same way they are in the host's
// own configuration.
func LoadFile(path string) (Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("settings: %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes settings file content. See LoadFile. Scalars are kept
// exactly as written, so "0x10" stays "0x10" rather than becoming "16".
func Parse(b []byte) (Map, error) {
	out := Map{}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(doc.Content) == 0 {
		return out, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse: line %d: want key: value pairs", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if _, dup := out[k.Value]; dup {
			return nil, fmt.Errorf("line %d: key %q already defined", k.Line, k.Value)
		}
		s, err := scalarString(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.Value, err)
		}
		out[k.Value] = s
	}
	return out, nil
}

func scalarString(n *yaml.Node) (string, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: value must be a scalar", n.Line)
	}
	if n.ShortTag() == "!!null" {
		return "", nil
	}
	return n.Value, nil
}
