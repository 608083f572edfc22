package agent

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultSystemPrompt = `You turn spoken requests into actions on the user's computer.

Read the user's command and, when present, the screen context. Decide what the
user wants and answer with a single JSON object and nothing else.

Supported actions:
- open_app: start an application. target is the application name. parameters.args is optional.
- type_text: type target into the focused window.
- press_key: press one key. target is ENTER, ESC, TAB, SPACE, BACKSPACE, DELETE, LEFT, RIGHT, UP, DOWN, HOME, END, PAGEUP or PAGEDOWN.
- wait: pause. parameters.milliseconds is the duration.
- search_web: search the web for target.
- click: click at the current mouse position.
- move_mouse: move the pointer to parameters.x, parameters.y.

Single action:
{"action": "open_app", "target": "notepad", "parameters": {}, "confidence": 0.95, "explanation": "Opening Notepad"}

Several actions in sequence:
{"action": "multi_step", "confidence": 0.9, "explanation": "Opening Notepad and typing",
 "steps": [
  {"action": "open_app", "target": "notepad", "order": 1, "delayMs": 1500, "description": "open the editor"},
  {"action": "type_text", "target": "Hello", "order": 2, "delayMs": 0, "description": "type the greeting"}
 ]}

order starts at 1. delayMs is how long to wait after a step before the next one.

If the request is unclear, answer with action "clarify" and put your question in explanation.
If the request is unsafe, answer with action "deny" and say why in explanation.`

type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

var promptOrder = map[string]int{
	"identity.md": 1,
	"actions.md":  2,
	"format.md":   3,
	"safety.md":   4,
	"user.md":     5,
}

// SystemPrompt joins the markdown files of the prompts directory, known
// names first. Without a usable directory the built-in prompt is returned.
func (pm *PromptManager) SystemPrompt() string {
	if pm == nil || pm.Directory == "" {
		return defaultSystemPrompt
	}
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return defaultSystemPrompt
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := promptOrder[files[i].Name()]
		oj, okJ := promptOrder[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI != okJ {
			return okI
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			contents = append(contents, s)
		}
	}

	if len(contents) == 0 {
		return defaultSystemPrompt
	}
	return strings.Join(contents, "\n\n---\n\n")
}
