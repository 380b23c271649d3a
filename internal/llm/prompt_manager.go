package llm

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed prompts/*.prompt
var promptFiles embed.FS

// Variant selects a flavor of a prompt, e.g. the local flow that never pushes.
type Variant string
type PromptKey string

const (
	DefaultVariant Variant = "default"
	LocalVariant   Variant = "local"

	ReviewerSystemPrompt PromptKey = "reviewer_system"
	AnalysisDiffPrompt   PromptKey = "analysis_diff"
	AnalysisFullPrompt   PromptKey = "analysis_full"
	FixSystemPrompt      PromptKey = "fix_system"
	FixUserPrompt        PromptKey = "fix_user"
	VerifySystemPrompt   PromptKey = "verify_system"
	VerifyFixPrompt      PromptKey = "verify_fix"
)

// ReviewerSystemData renders the analysis system prompt.
type ReviewerSystemData struct {
	ReviewerID     string
	ReviewerTitle  string
	ReviewerPrompt string
}

// AnalysisData renders the analysis user message.
type AnalysisData struct {
	ReviewerID       string
	ReviewerTitle    string
	ChangedFilesPath string
	DiffPath         string
}

// FixData renders both fix prompts.
type FixData struct {
	Number      int
	Title       string
	File        string
	Line        int
	Description string
	FixPlan     string
	Branch      string
}

// VerifyFixData renders the repair prompt after a failed verify command.
type VerifyFixData struct {
	Command string
	Output  string
	Attempt int
	Branch  string
}

type PromptManager struct {
	prompts map[PromptKey]map[Variant]*template.Template
}

func NewPromptManager() (*PromptManager, error) {
	pm := &PromptManager{
		prompts: make(map[PromptKey]map[Variant]*template.Template),
	}

	files, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()
		baseName := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		lastUnderscore := strings.LastIndex(baseName, "_")
		if lastUnderscore <= 0 || lastUnderscore == len(baseName)-1 {
			return nil, fmt.Errorf("invalid prompt filename format: %s (expected 'key_variant.prompt')", fileName)
		}

		key := PromptKey(baseName[:lastUnderscore])
		variant := Variant(baseName[lastUnderscore+1:])

		content, err := promptFiles.ReadFile("prompts/" + fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt file %s: %w", fileName, err)
		}

		if err := pm.register(key, variant, string(content)); err != nil {
			return nil, fmt.Errorf("failed to register prompt from file %s: %w", fileName, err)
		}
	}

	return pm, nil
}

func (pm *PromptManager) register(key PromptKey, variant Variant, content string) error {
	tmpl, err := template.New(string(key) + "_" + string(variant)).Option("missingkey=error").Parse(content)
	if err != nil {
		return fmt.Errorf("could not parse template: %w", err)
	}

	if _, ok := pm.prompts[key]; !ok {
		pm.prompts[key] = make(map[Variant]*template.Template)
	}

	pm.prompts[key][variant] = tmpl
	return nil
}

// Get returns the template for key and variant, falling back to the default variant.
func (pm *PromptManager) Get(key PromptKey, variant Variant) (*template.Template, error) {
	variants, ok := pm.prompts[key]
	if !ok {
		return nil, fmt.Errorf("no prompts found for key '%s'", key)
	}

	if tmpl, ok := variants[variant]; ok {
		return tmpl, nil
	}
	if tmpl, ok := variants[DefaultVariant]; ok {
		return tmpl, nil
	}

	return nil, fmt.Errorf("no template found for key '%s' and variant '%s', and no default was available", key, variant)
}

func (pm *PromptManager) Render(key PromptKey, variant Variant, data any) (string, error) {
	tmpl, err := pm.Get(key, variant)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}

	return buf.String(), nil
}
