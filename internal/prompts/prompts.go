package prompts

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"toolcal/internal/tool"
)

//go:embed calendar.md
var CalendarSysPrompt string

//go:embed tools/*.yaml
var toolSpecs embed.FS

// SystemPrompt returns the contents of path, or the built-in calendar prompt
// when path is empty.
func SystemPrompt(path string) (string, error) {
	if path == "" {
		return CalendarSysPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return prompt, nil
}

// LoadToolSpec loads a tool specification from the embedded YAML files.
// The name is the tool's wire name (e.g. "get_date").
func LoadToolSpec(name string) (tool.Spec, error) {
	filename := fmt.Sprintf("tools/%s.yaml", name)
	data, err := toolSpecs.ReadFile(filename)
	if err != nil {
		return tool.Spec{}, fmt.Errorf("failed to read tool spec %s: %w", filename, err)
	}

	var spec tool.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return tool.Spec{}, fmt.Errorf("failed to unmarshal tool spec %s: %w", filename, err)
	}
	if spec.Name != name {
		return tool.Spec{}, fmt.Errorf("tool spec %s declares name %q", filename, spec.Name)
	}
	if err := spec.Validate(); err != nil {
		return tool.Spec{}, err
	}

	return spec, nil
}

// MustToolSpec is LoadToolSpec for specs that ship with the binary.
func MustToolSpec(name string) tool.Spec {
	spec, err := LoadToolSpec(name)
	if err != nil {
		panic(err)
	}
	return spec
}
