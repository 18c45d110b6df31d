package render

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// Frontmatter holds parsed YAML frontmatter fields.
type Frontmatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// SplitFrontmatter separates a leading YAML frontmatter block from the
// markdown body. When there is no block, or the block is not a YAML
// mapping (a leading "---" can also be a thematic break), it returns nil
// and the content unchanged.
func SplitFrontmatter(content []byte) (*Frontmatter, []byte) {
	if !bytes.HasPrefix(content, []byte("---")) {
		return nil, content
	}

	// Skip the rest of the opening line (could be "---\n" or "---\r\n").
	rest := content[3:]

	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 || len(bytes.TrimSpace(rest[:idx])) != 0 {
		return nil, content
	}

	rest = rest[idx+1:]

	// The closing delimiter must be on its own line.
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil, content
	}

	block := rest[:end]

	var mapping map[string]any
	if err := yaml.Unmarshal(block, &mapping); err != nil || mapping == nil {
		return nil, content
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		// Valid mapping with fields of unexpected types; still front matter.
		fm = Frontmatter{}
	}

	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}

	return &fm, body
}
