package proto

import "fmt"

// ActionType represents the kind of operation an agent proposes.
type ActionType string

const (
	// ActionReadFile reads a file at a path.
	ActionReadFile ActionType = "readFile"

	// ActionWriteFile writes content to a path, creating or replacing it.
	ActionWriteFile ActionType = "writeFile"

	// ActionEditFile applies a search/replace pair to a file.
	ActionEditFile ActionType = "editFile"

	// ActionDeleteFile removes a file at a path.
	ActionDeleteFile ActionType = "deleteFile"

	// ActionListDirectory lists the entries of a directory.
	ActionListDirectory ActionType = "listDirectory"

	// ActionExecuteCommand runs a shell command.
	ActionExecuteCommand ActionType = "executeCommand"

	// ActionCompleteTask marks the underlying task as done with a summary.
	ActionCompleteTask ActionType = "completeTask"
)

// AllActionTypes lists every known action type.
var AllActionTypes = []ActionType{
	ActionReadFile,
	ActionWriteFile,
	ActionEditFile,
	ActionDeleteFile,
	ActionListDirectory,
	ActionExecuteCommand,
	ActionCompleteTask,
}

// IsValid checks if the action type is one of the known variants.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionReadFile, ActionWriteFile, ActionEditFile, ActionDeleteFile,
		ActionListDirectory, ActionExecuteCommand, ActionCompleteTask:
		return true
	default:
		return false
	}
}

// MutatesFiles reports whether the action type changes file contents.
// Used downstream to group actions for rendering.
func (t ActionType) MutatesFiles() bool {
	switch t {
	case ActionWriteFile, ActionEditFile, ActionDeleteFile:
		return true
	default:
		return false
	}
}

// String returns the string representation of the action type.
func (t ActionType) String() string {
	return string(t)
}

// ActionParams carries the variant-specific payload of a proposed action.
// Which fields are required depends on the ActionType; Validate enforces it.
type ActionParams struct {
	Path        string `json:"path,omitempty"`
	Content     string `json:"content,omitempty"`
	Search      string `json:"search,omitempty"`
	Replace     string `json:"replace,omitempty"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

// Validate checks that the params carry the fields the action type requires.
func (p *ActionParams) Validate(t ActionType) error {
	switch t {
	case ActionReadFile, ActionDeleteFile, ActionListDirectory:
		if p.Path == "" {
			return fmt.Errorf("action type %s requires a path", t)
		}
	case ActionWriteFile:
		if p.Path == "" {
			return fmt.Errorf("action type %s requires a path", t)
		}
	case ActionEditFile:
		if p.Path == "" {
			return fmt.Errorf("action type %s requires a path", t)
		}
		if p.Search == "" {
			return fmt.Errorf("action type %s requires a search string", t)
		}
	case ActionExecuteCommand:
		if p.Command == "" {
			return fmt.Errorf("action type %s requires a command", t)
		}
	case ActionCompleteTask:
		// Summary may legitimately be empty while the agent streams it.
	default:
		return fmt.Errorf("unknown action type: %s", t)
	}
	return nil
}

// ActionResult carries the executor's outcome for one action.
type ActionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Action is one proposed or executed operation. ID is server-assigned and
// unique within an execution. Type and Params are immutable once proposed;
// only Status and Result change afterwards.
type Action struct {
	ID     string        `json:"id"`
	Type   ActionType    `json:"type"`
	Params ActionParams  `json:"params"`
	Status ActionStatus  `json:"status"`
	Result *ActionResult `json:"result,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Result != nil {
		result := *a.Result
		clone.Result = &result
	}
	return &clone
}
