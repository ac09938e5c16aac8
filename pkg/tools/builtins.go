package tools

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Launcher starts a desktop-side command. It is injectable so the
// builtin tools can be tested without touching the host system.
type Launcher func(name string, args ...string) error

// systemLauncher starts the command detached and does not wait for it.
func systemLauncher(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	return cmd.Start()
}

// BuiltinsConfig holds dependencies for the builtin tools.
type BuiltinsConfig struct {
	// Launch starts commands on the host. Defaults to exec.Command + Start.
	Launch Launcher
}

// Builtins returns the assistant's built-in desktop tools: open_url,
// open_path, and run_app.
func Builtins(cfg BuiltinsConfig) []Tool {
	launch := cfg.Launch
	if launch == nil {
		launch = systemLauncher
	}

	return []Tool{
		{
			Name:        "open_url",
			Description: "Open a web page in the user's default browser. Use when asked to open, show, or look up a website.",
			Parameters: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The full URL to open, including scheme",
				},
			},
			Handler: func(args map[string]interface{}) (string, error) {
				raw, _ := args["url"].(string)
				if raw == "" {
					return "", fmt.Errorf("open_url: missing url argument")
				}
				parsed, err := url.Parse(raw)
				if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
					return "", fmt.Errorf("open_url: not an http(s) URL: %s", raw)
				}
				if err := launch(openerCommand(), raw); err != nil {
					return "", fmt.Errorf("open_url: %w", err)
				}
				return fmt.Sprintf("Opened %s in the browser.", parsed.Host), nil
			},
		},
		{
			Name:        "open_path",
			Description: "Open a local file or folder with the system default application. Use when asked to open a folder, document, or file.",
			Parameters: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path, or a path starting with ~ for the home directory",
				},
			},
			Handler: func(args map[string]interface{}) (string, error) {
				path, _ := args["path"].(string)
				if path == "" {
					return "", fmt.Errorf("open_path: missing path argument")
				}
				expanded, err := expandHome(path)
				if err != nil {
					return "", fmt.Errorf("open_path: %w", err)
				}
				if err := launch(openerCommand(), expanded); err != nil {
					return "", fmt.Errorf("open_path: %w", err)
				}
				return fmt.Sprintf("Opened %s.", expanded), nil
			},
		},
		{
			Name:        "run_app",
			Description: "Launch an application by name. Use when asked to open or start a program.",
			Parameters: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "The application name or executable",
				},
			},
			Handler: func(args map[string]interface{}) (string, error) {
				name, _ := args["name"].(string)
				if name == "" {
					return "", fmt.Errorf("run_app: missing name argument")
				}
				if err := launch(name); err != nil {
					return "", fmt.Errorf("run_app: %w", err)
				}
				return fmt.Sprintf("Started %s.", name), nil
			},
		},
	}
}

// openerCommand is the platform command that opens a URL or path with
// the default handler.
func openerCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "windows":
		return "explorer"
	default:
		return "xdg-open"
	}
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
