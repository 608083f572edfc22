package dispatch

import "strings"

var defaultAliases = map[string]string{
	"notepad":        "notepad.exe",
	"calculator":     "calc.exe",
	"calc":           "calc.exe",
	"paint":          "mspaint.exe",
	"explorer":       "explorer.exe",
	"file explorer":  "explorer.exe",
	"chrome":         "chrome.exe",
	"edge":           "msedge.exe",
	"firefox":        "firefox.exe",
	"vscode":         "code.exe",
	"code":           "code.exe",
	"cmd":            "cmd.exe",
	"command prompt": "cmd.exe",
	"powershell":     "powershell.exe",
}

// DefaultAliases returns a copy of the built-in name to executable table.
func DefaultAliases() map[string]string {
	return MergeAliases(defaultAliases, nil)
}

// MergeAliases lays overrides over base. Keys are matched case-insensitively;
// blank keys or values are skipped.
func MergeAliases(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for _, m := range []map[string]string{base, overrides} {
		for k, v := range m {
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			out[k] = v
		}
	}
	return out
}

// resolveApp maps a spoken application name to an executable. Unknown names
// get ".exe" appended unless they already carry it.
func resolveApp(aliases map[string]string, name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if exe, ok := aliases[lower]; ok {
		return exe
	}
	if strings.HasSuffix(lower, ".exe") {
		return lower
	}
	return lower + ".exe"
}
