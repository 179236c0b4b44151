package registry

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"gopkg.in/yaml.v3"
)

// loadLocalAgents reads every *.yaml file in dir as an agentDoc and merges
// their Agents by name. A malformed individual file is skipped with a
// warning; it does not abort the derived view for the other files.
func loadLocalAgents(dir string) map[string]models.AgentProfile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	out := make(map[string]models.AgentProfile)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable local agent file", "path", path, "error", err.Error())
			continue
		}
		var doc agentDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			slog.Warn("skipping malformed local agent file", "path", path, "error", err.Error())
			continue
		}
		for _, a := range doc.Agents {
			if a.Name == "" {
				slog.Warn("skipping local agent with empty name", "path", path)
				continue
			}
			out[a.Name] = a
		}
	}
	return out
}
