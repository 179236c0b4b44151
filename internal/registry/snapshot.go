// Package registry loads and hot-reloads the agent/template configuration
// that drives pipeline execution.
package registry

import (
	"fmt"
	"os"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"gopkg.in/yaml.v3"
)

// agentDoc is the on-disk shape of the agents.yaml document.
type agentDoc struct {
	Agents []models.AgentProfile `yaml:"agents"`
}

// templateDoc is the on-disk shape of the templates.yaml document.
type templateDoc struct {
	Templates []models.PipelineTemplate `yaml:"templates"`
}

// Snapshot is an immutable, referentially-intact view of the agent/template
// configuration at one point in time. Readers hold a Snapshot for the
// duration of one logical operation; it is never mutated in place.
type Snapshot struct {
	agents    map[string]models.AgentProfile
	templates map[string]models.PipelineTemplate
}

// GetAgent returns the named agent profile.
func (s *Snapshot) GetAgent(name string) (models.AgentProfile, bool) {
	a, ok := s.agents[name]
	return a, ok
}

// GetTemplate returns the named pipeline template.
func (s *Snapshot) GetTemplate(name string) (models.PipelineTemplate, bool) {
	t, ok := s.templates[name]
	return t, ok
}

// Agents returns every agent profile in the snapshot, order unspecified.
func (s *Snapshot) Agents() []models.AgentProfile {
	out := make([]models.AgentProfile, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// Templates returns every pipeline template in the snapshot, order unspecified.
func (s *Snapshot) Templates() []models.PipelineTemplate {
	out := make([]models.PipelineTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out
}

// TemplateReferencesAgent reports whether any template step names this agent,
// used by the registry API to refuse a delete that would break referential
// integrity.
func (s *Snapshot) TemplateReferencesAgent(agentName string) bool {
	for _, t := range s.templates {
		for _, step := range t.Steps {
			if !step.IsApproval && step.Agent == agentName {
				return true
			}
		}
	}
	return false
}

// loadSnapshot parses both configuration documents and validates referential
// integrity: every non-approval TemplateStep.Agent must resolve to a known
// AgentProfile. Returns the first validation error encountered.
func loadSnapshot(agentsPath, templatesPath string) (*Snapshot, error) {
	agents, err := parseAgentDoc(agentsPath)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	templates, err := parseTemplateDoc(templatesPath)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	agentByName := make(map[string]models.AgentProfile, len(agents))
	for _, a := range agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent with empty name in %s", agentsPath)
		}
		agentByName[a.Name] = a
	}

	templateByName := make(map[string]models.PipelineTemplate, len(templates))
	for _, t := range templates {
		if t.Name == "" {
			return nil, fmt.Errorf("template with empty name in %s", templatesPath)
		}
		for _, step := range t.Steps {
			if step.IsApproval {
				continue
			}
			if _, ok := agentByName[step.Agent]; !ok {
				return nil, fmt.Errorf("template %q references unknown agent %q", t.Name, step.Agent)
			}
		}
		templateByName[t.Name] = t
	}

	return &Snapshot{agents: agentByName, templates: templateByName}, nil
}

func parseAgentDoc(path string) ([]models.AgentProfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc agentDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Agents, nil
}

func parseTemplateDoc(path string) ([]models.PipelineTemplate, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc templateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Templates, nil
}
