package agent

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/tmc/langchaingo/prompts"
)

// Prompt names.
const (
	PromptPlanner     = "planner"
	PromptValidator   = "validator"
	PromptRefiner     = "refiner"
	PromptSynthesizer = "synthesizer"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// PromptManager loads prompt templates from Directory, falling back to the
// built-in defaults for any file the directory does not provide.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// Template returns the raw template text for name.
func (pm *PromptManager) Template(name string) (string, error) {
	file := name + ".md"
	if pm != nil && pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, file))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read prompt %s: %v", file, err)
		}
	}

	data, err := defaultPrompts.ReadFile("prompts/" + file)
	if err != nil {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	return string(data), nil
}

// Render fills the named template with values. Every variable the template
// references must be present in values.
func (pm *PromptManager) Render(name string, values map[string]any) (string, error) {
	text, err := pm.Template(name)
	if err != nil {
		return "", err
	}

	vars := make([]string, 0, len(values))
	for k := range values {
		vars = append(vars, k)
	}
	sort.Strings(vars)

	out, err := prompts.NewPromptTemplate(text, vars).Format(values)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return out, nil
}
