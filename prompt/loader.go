package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/randalmurphal/promptarena/resolver"
)

// embeddedPrompts holds the default templates.
//
//go:embed prompts/*.txt
var embeddedPrompts embed.FS

// Loader loads and renders prompt templates.
type Loader struct {
	dirs    []string
	funcMap template.FuncMap

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewLoader creates a prompt loader for the given project directory.
// It searches for prompts in the following order:
//  1. .promptarena/prompts/ in project
//  2. prompts/ in project
//  3. Templates embedded in the binary
func NewLoader(projectDir string) *Loader {
	return &Loader{
		dirs: []string{
			filepath.Join(projectDir, ".promptarena", "prompts"),
			filepath.Join(projectDir, "prompts"),
		},
		cache:   make(map[string]*template.Template),
		funcMap: defaultPromptFuncMap(),
	}
}

// AddSearchDir adds a directory searched before all others.
func (l *Loader) AddSearchDir(dir string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirs = append([]string{dir}, l.dirs...)
	l.cache = make(map[string]*template.Template)
}

// AddFunc adds a custom template function. Call it before loading.
func (l *Loader) AddFunc(name string, fn any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcMap[name] = fn
}

// Load loads a prompt by name without variable substitution.
func (l *Loader) Load(name string) (string, error) {
	return l.LoadWithVars(name, nil)
}

// LoadWithVars loads and renders a prompt with variable substitution.
func (l *Loader) LoadWithVars(name string, vars map[string]any) (string, error) {
	tmpl, err := l.getTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Rendered is a prompt rendered with a context bundle.
type Rendered struct {
	Text        string
	Attachments []Attachment
}

// RenderBundle renders the named prompt with the bundle available as
// .Context (the rendered file blocks), .Report and .Items, in addition to
// vars.
func (l *Loader) RenderBundle(name string, bundle *resolver.Bundle, vars map[string]any) (Rendered, error) {
	b := NewBuilder().AddBundle(bundle)

	all := make(map[string]any, len(vars)+3)
	for k, v := range vars {
		all[k] = v
	}
	all["Context"] = b.Build()
	all["Report"] = bundle.Report
	all["Items"] = bundle.Admitted()

	text, err := l.LoadWithVars(name, all)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Text: text, Attachments: b.Attachments()}, nil
}

// Exists checks if a prompt exists.
func (l *Loader) Exists(name string) bool {
	_, err := l.loadRaw(name)
	return err == nil
}

// List returns all available prompt names in sorted order.
func (l *Loader) List() []string {
	prompts := make(map[string]bool)
	add := func(entries []os.DirEntry) {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".txt") {
				prompts[strings.TrimSuffix(entry.Name(), ".txt")] = true
			}
		}
	}

	for _, dir := range l.searchDirs() {
		if entries, err := os.ReadDir(dir); err == nil {
			add(entries)
		}
	}
	if entries, err := embeddedPrompts.ReadDir("prompts"); err == nil {
		add(entries)
	}

	result := make([]string, 0, len(prompts))
	for name := range prompts {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// ClearCache clears the template cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*template.Template)
}

func (l *Loader) searchDirs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.dirs...)
}

// getTemplate loads and caches a template.
func (l *Loader) getTemplate(name string) (*template.Template, error) {
	l.mu.Lock()
	tmpl, ok := l.cache[name]
	l.mu.Unlock()
	if ok {
		return tmpl, nil
	}

	content, err := l.loadRaw(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	tmpl, err = template.New(name).Funcs(l.funcMap).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	l.cache[name] = tmpl
	return tmpl, nil
}

// loadRaw loads raw prompt content without parsing.
func (l *Loader) loadRaw(name string) (string, error) {
	filename := name + ".txt"

	for _, dir := range l.searchDirs() {
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err == nil {
			return string(data), nil
		}
	}

	data, err := embeddedPrompts.ReadFile("prompts/" + filename)
	if err != nil {
		return "", fmt.Errorf("prompt not found: %s", name)
	}
	return string(data), nil
}

// defaultPromptFuncMap returns default template functions.
func defaultPromptFuncMap() template.FuncMap {
	return template.FuncMap{
		"join":     strings.Join,
		"split":    strings.Split,
		"trim":     strings.TrimSpace,
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
		"title":    cases.Title(language.English).String,
		"contains": strings.Contains,
		"replace":  strings.ReplaceAll,
		"indent":   indentString,
		"default":  defaultValue,
		"quote":    quoteString,
		"add":      func(a, b int) int { return a + b },
		"bytes":    func(n int64) string { return humanize.Bytes(uint64(max(n, 0))) },
	}
}

// indentString indents all non-empty lines of a string.
func indentString(indent int, s string) string {
	if s == "" {
		return s
	}
	prefix := strings.Repeat(" ", indent)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

// defaultValue returns the default if value is empty.
func defaultValue(defaultVal, value any) any {
	if value == nil {
		return defaultVal
	}
	if s, ok := value.(string); ok && s == "" {
		return defaultVal
	}
	return value
}

// quoteString quotes a string for safe inclusion.
func quoteString(s string) string {
	return fmt.Sprintf("%q", s)
}
