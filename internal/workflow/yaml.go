package workflow

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a YAML workflow document. The result still has to go
// through Load before it can be executed.
func ParseYAML(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &DefinitionError{Reason: "document payload is empty"}
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &DefinitionError{Reason: fmt.Sprintf("decode document: %v", err)}
	}
	return &doc, nil
}

// LoadFile reads a YAML workflow file from disk and returns the validated
// definition.
func LoadFile(ctx context.Context, path string) (*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("workflow: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	doc, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", filepath.Clean(path), err)
	}
	return Load(ctx, doc)
}
