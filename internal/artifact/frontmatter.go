// Package artifact models the on-disk workflow artifacts the orchestrator
// consumes: chunks, narratives, investigations, subsystems, and external
// references. Artifacts are markdown documents with a YAML frontmatter block.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoFrontmatter indicates the document has no YAML frontmatter block.
var ErrNoFrontmatter = errors.New("document has no frontmatter")

const frontmatterDelimiter = "---"

// Doc is a markdown document with parsed frontmatter. Mutations go through
// the typed accessors and are re-serialised from the YAML node tree, which
// preserves key order and avoids churn diffs.
type Doc struct {
	// node is the mapping node of the frontmatter document.
	node *yaml.Node
	// Body is the markdown content after the closing delimiter.
	Body string
}

// ParseDoc splits content into frontmatter and body and parses the YAML.
func ParseDoc(content []byte) (*Doc, error) {
	fm, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(fm, &root); err != nil {
		return nil, fmt.Errorf("invalid frontmatter YAML: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("frontmatter is not a mapping")
	}

	return &Doc{node: root.Content[0], Body: body}, nil
}

// splitFrontmatter separates the frontmatter block from the body.
func splitFrontmatter(content []byte) (frontmatter []byte, body string, err error) {
	text := string(content)
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") && text != frontmatterDelimiter {
		return nil, "", ErrNoFrontmatter
	}

	rest := strings.TrimPrefix(text, frontmatterDelimiter+"\n")
	idx := strings.Index(rest, "\n"+frontmatterDelimiter)
	if idx < 0 {
		return nil, "", fmt.Errorf("unterminated frontmatter block")
	}

	frontmatter = []byte(rest[:idx+1])
	body = rest[idx+1+len(frontmatterDelimiter):]
	body = strings.TrimLeft(body, "\n")
	return frontmatter, body, nil
}

// StripFrontmatter returns the body of a document, or the whole content when
// no frontmatter block is present. Used for skill files consumed as prompts.
func StripFrontmatter(content []byte) string {
	_, body, err := splitFrontmatter(content)
	if err != nil {
		return string(content)
	}
	return body
}

// find returns the value node for a top-level key.
func (d *Doc) find(key string) (*yaml.Node, bool) {
	for i := 0; i+1 < len(d.node.Content); i += 2 {
		if d.node.Content[i].Value == key {
			return d.node.Content[i+1], true
		}
	}
	return nil, false
}

// GetString returns a top-level scalar value, or "" when absent.
func (d *Doc) GetString(key string) string {
	n, ok := d.find(key)
	if !ok || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

// GetStringList returns a top-level sequence of scalars, or nil when absent.
// A scalar value is treated as a single-element list.
func (d *Doc) GetStringList(key string) []string {
	n, ok := d.find(key)
	if !ok {
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value == "" || n.Tag == "!!null" {
			return nil
		}
		return []string{n.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode && c.Value != "" {
				out = append(out, c.Value)
			}
		}
		return out
	}
	return nil
}

// Decode unmarshals the whole frontmatter mapping into v.
func (d *Doc) Decode(v interface{}) error {
	return d.node.Decode(v)
}

// SetString updates a top-level scalar in place, appending the key if absent.
func (d *Doc) SetString(key, value string) {
	if n, ok := d.find(key); ok {
		n.SetString(value)
		return
	}
	var k, v yaml.Node
	k.SetString(key)
	v.SetString(value)
	d.node.Content = append(d.node.Content, &k, &v)
}

// Marshal re-serialises the document with the frontmatter delimiters.
func (d *Doc) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	buf.WriteString(frontmatterDelimiter + "\n")
	if d.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(d.Body)
	}
	return buf.Bytes(), nil
}
