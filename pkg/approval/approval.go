// Package approval implements the per-project policy deciding whether a
// proposed action type requires human sign-off before execution. The gate
// is advisory only: it never mutates action state, it just resolves
// settings for callers deciding what may be bulk-approved.
package approval

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"overseer/pkg/proto"
)

// SettingsFilename is the per-project approval policy file, stored under
// the project's .overseer directory.
const SettingsFilename = "approvals.yaml"

// defaultPolicy maps each action type to its built-in approval default:
// mutating tools require sign-off, read-only and terminal tools do not.
//
//nolint:gochecknoglobals // Immutable built-in defaults.
var defaultPolicy = map[proto.ActionType]bool{
	proto.ActionReadFile:       false,
	proto.ActionWriteFile:      true,
	proto.ActionEditFile:       true,
	proto.ActionDeleteFile:     true,
	proto.ActionListDirectory:  false,
	proto.ActionExecuteCommand: true,
	proto.ActionCompleteTask:   false,
}

// Settings is the per-project mapping from action type to "requires
// approval". Types absent from the map fall back to built-in defaults.
type Settings struct {
	Tools map[proto.ActionType]bool `yaml:"tools" json:"tools"`
}

// DefaultSettings returns a settings value populated with the built-in
// defaults for every known action type.
func DefaultSettings() Settings {
	tools := make(map[proto.ActionType]bool, len(defaultPolicy))
	for t, required := range defaultPolicy {
		tools[t] = required
	}
	return Settings{Tools: tools}
}

// RequiresApproval resolves whether the action type needs human sign-off,
// falling back to the built-in default for types absent from the settings.
func (s Settings) RequiresApproval(t proto.ActionType) bool {
	if s.Tools != nil {
		if required, ok := s.Tools[t]; ok {
			return required
		}
	}
	return defaultPolicy[t]
}

// AutoApprovable reports whether every given action's type is allowed to
// run without sign-off under these settings.
func (s Settings) AutoApprovable(actions []*proto.Action) bool {
	for _, action := range actions {
		if s.RequiresApproval(action.Type) {
			return false
		}
	}
	return true
}

// Load reads the settings file from the project's .overseer directory.
// A missing file yields the built-in defaults.
func Load(projectDir string) (Settings, error) {
	path := filepath.Join(projectDir, ".overseer", SettingsFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("failed to read approval settings: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse approval settings: %w", err)
	}

	for t := range settings.Tools {
		if !t.IsValid() {
			return Settings{}, fmt.Errorf("approval settings reference unknown tool: %s", t)
		}
	}
	return settings, nil
}

// Save writes the settings file, creating the .overseer directory if needed.
func Save(projectDir string, settings Settings) error {
	dir := filepath.Join(projectDir, ".overseer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to serialize approval settings: %w", err)
	}

	path := filepath.Join(dir, SettingsFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write approval settings: %w", err)
	}
	return nil
}
