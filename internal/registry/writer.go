package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"gopkg.in/yaml.v3"
)

// ConflictError signals a registry write that violates a uniqueness or
// referential-integrity precondition: creating a duplicate agent name, or
// deleting an agent still referenced by a template.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError signals a registry write referencing an unknown name
// (e.g. a template step naming an agent that doesn't exist), surfaced as
// 422 by the API layer.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// CreateAgent appends a new agent profile and reloads the snapshot.
// Returns ConflictError if the name is already taken.
func (r *Registry) CreateAgent(a models.AgentProfile) error {
	agents, err := parseAgentDoc(r.agentsPath)
	if err != nil {
		return err
	}
	for _, existing := range agents {
		if existing.Name == a.Name {
			return &ConflictError{Message: fmt.Sprintf("agent %q already exists", a.Name)}
		}
	}
	agents = append(agents, a)
	if err := writeAgentDoc(r.agentsPath, agents); err != nil {
		return err
	}
	return r.Reload()
}

// UpdateAgent replaces an existing agent profile by name.
func (r *Registry) UpdateAgent(name string, a models.AgentProfile) error {
	agents, err := parseAgentDoc(r.agentsPath)
	if err != nil {
		return err
	}
	found := false
	for i, existing := range agents {
		if existing.Name == name {
			agents[i] = a
			found = true
			break
		}
	}
	if !found {
		return &ConflictError{Message: fmt.Sprintf("agent %q does not exist", name)}
	}
	if err := writeAgentDoc(r.agentsPath, agents); err != nil {
		return err
	}
	return r.Reload()
}

// DeleteAgent removes an agent by name. Returns ConflictError if any
// template currently references it.
func (r *Registry) DeleteAgent(name string) error {
	if r.Current().TemplateReferencesAgent(name) {
		return &ConflictError{Message: fmt.Sprintf("agent %q is referenced by a template", name)}
	}
	agents, err := parseAgentDoc(r.agentsPath)
	if err != nil {
		return err
	}
	out := agents[:0]
	for _, existing := range agents {
		if existing.Name != name {
			out = append(out, existing)
		}
	}
	if err := writeAgentDoc(r.agentsPath, out); err != nil {
		return err
	}
	return r.Reload()
}

// CreateTemplate appends a new pipeline template after validating that every
// agent step references a known agent.
func (r *Registry) CreateTemplate(t models.PipelineTemplate) error {
	if err := r.validateTemplate(t); err != nil {
		return err
	}
	templates, err := parseTemplateDoc(r.templatesPath)
	if err != nil {
		return err
	}
	for _, existing := range templates {
		if existing.Name == t.Name {
			return &ConflictError{Message: fmt.Sprintf("template %q already exists", t.Name)}
		}
	}
	templates = append(templates, t)
	if err := writeTemplateDoc(r.templatesPath, templates); err != nil {
		return err
	}
	return r.Reload()
}

// UpdateTemplate replaces an existing template by name.
func (r *Registry) UpdateTemplate(name string, t models.PipelineTemplate) error {
	if err := r.validateTemplate(t); err != nil {
		return err
	}
	templates, err := parseTemplateDoc(r.templatesPath)
	if err != nil {
		return err
	}
	found := false
	for i, existing := range templates {
		if existing.Name == name {
			templates[i] = t
			found = true
			break
		}
	}
	if !found {
		return &ConflictError{Message: fmt.Sprintf("template %q does not exist", name)}
	}
	if err := writeTemplateDoc(r.templatesPath, templates); err != nil {
		return err
	}
	return r.Reload()
}

// DeleteTemplate removes a template by name.
func (r *Registry) DeleteTemplate(name string) error {
	templates, err := parseTemplateDoc(r.templatesPath)
	if err != nil {
		return err
	}
	out := templates[:0]
	for _, existing := range templates {
		if existing.Name != name {
			out = append(out, existing)
		}
	}
	if err := writeTemplateDoc(r.templatesPath, out); err != nil {
		return err
	}
	return r.Reload()
}

func (r *Registry) validateTemplate(t models.PipelineTemplate) error {
	snap := r.Current()
	for _, step := range t.Steps {
		if step.IsApproval {
			continue
		}
		if _, ok := snap.GetAgent(step.Agent); !ok {
			return &ValidationError{Message: fmt.Sprintf("template %q references unknown agent %q", t.Name, step.Agent)}
		}
	}
	return nil
}

func writeAgentDoc(path string, agents []models.AgentProfile) error {
	return atomicWriteYAML(path, agentDoc{Agents: agents})
}

func writeTemplateDoc(path string, templates []models.PipelineTemplate) error {
	return atomicWriteYAML(path, templateDoc{Templates: templates})
}

// atomicWriteYAML serializes v and writes it via write-temp-then-rename so
// the hot-reload watcher (which reacts to Write/Create/Rename events) never
// observes a partially-written document.
func atomicWriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".agentpipe-registry-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
