package render

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// DefaultVersion is used when a payload names a template without a version
const DefaultVersion = "v1"

// ErrTemplateNotFound is returned for an unknown id/version pair
var ErrTemplateNotFound = errors.New("template not found")

// Registry holds named, versioned text templates
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRegistry creates a Registry preloaded with the built-in templates
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*template.Template)}
	r.MustRegister("registration_confirmation", "v1",
		"Hello {{.name}}, you are registered for {{.event}}.")
	return r
}

// Register parses body and stores it under id and version
func (r *Registry) Register(id, version, body string) error {
	key := templateKey(id, version)
	tpl, err := template.New(key).Option("missingkey=zero").Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[key] = tpl
	return nil
}

// MustRegister is Register that panics on a parse error
func (r *Registry) MustRegister(id, version, body string) {
	if err := r.Register(id, version, body); err != nil {
		panic(err)
	}
}

// Render executes the template registered under id and version with vars.
// Missing vars render as the empty string.
func (r *Registry) Render(id, version string, vars map[string]any) (string, error) {
	key := templateKey(id, version)

	r.mu.RLock()
	tpl, ok := r.templates[key]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}

	data := make(map[string]string, len(vars))
	for k, v := range vars {
		if v == nil {
			continue
		}
		data[k] = fmt.Sprint(v)
	}

	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", key, err)
	}
	return sb.String(), nil
}

func templateKey(id, version string) string {
	if version == "" {
		version = DefaultVersion
	}
	return id + ":" + version
}
