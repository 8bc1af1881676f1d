// Package setup registers the MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/repertory-sheet-server/internal/config"
)

const (
	// ServerName is the key of this server in the client's mcpServers map
	ServerName = "repertory-sheet"
	// BinaryName is the default name of the MCP server executable
	BinaryName = "repsheet-mcp"
	// DataDirEnv is read by the lite configuration
	DataDirEnv = "REPSHEET_DATA_DIR"
)

// DesktopConfig represents the desktop client's configuration file structure.
type DesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options contains options for the setup process.
type Options struct {
	BinaryPath   string // Path to the server binary
	DataDir      string // Data directory for sessions' exports and the prescription log
	RepertoryURL string // Search service base URL, left to the default when empty
}

// DesktopConfigPath returns the path to the desktop client's config file.
func DesktopConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadDesktopConfig loads the existing client configuration. A missing file yields an empty config.
func LoadDesktopConfig(configPath string) (*DesktopConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &DesktopConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DesktopConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}
	return &cfg, nil
}

// SaveDesktopConfig writes cfg to configPath, creating the directory if needed.
func SaveDesktopConfig(configPath string, cfg *DesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or updates this server in the client config at configPath.
// Other servers in the file are left untouched.
func Register(configPath string, opts Options) (MCPServerConfig, error) {
	cfg, err := LoadDesktopConfig(configPath)
	if err != nil {
		return MCPServerConfig{}, err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		if binaryPath, err = findBinary(); err != nil {
			return MCPServerConfig{}, fmt.Errorf("could not find server binary: %w", err)
		}
	}

	server := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		server.Env[DataDirEnv] = opts.DataDir
	}
	if opts.RepertoryURL != "" {
		server.Env["REPSHEET_REPERTORY_BASE_URL"] = opts.RepertoryURL
	}

	cfg.MCPServers[ServerName] = server
	if err := SaveDesktopConfig(configPath, cfg); err != nil {
		return MCPServerConfig{}, err
	}
	return server, nil
}

// findBinary attempts to find the server binary in common locations.
func findBinary() (string, error) {
	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + BinaryName,
		"./build/" + BinaryName,
		filepath.Join(home, ".local", "bin", BinaryName),
		"/usr/local/bin/" + BinaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", BinaryName)
}

// Status represents the current setup status.
type Status struct {
	ConfigPath   string
	Registered   bool
	ServerPath   string
	DataDir      string
	DataDirFound bool
	Issues       []string
}

// GetStatus inspects the client config at configPath and the data directory it names.
func GetStatus(configPath string) (*Status, error) {
	status := &Status{ConfigPath: configPath, Issues: []string{}}

	cfg, err := LoadDesktopConfig(configPath)
	if err != nil {
		return nil, err
	}

	if server, ok := cfg.MCPServers[ServerName]; ok {
		status.Registered = true
		status.ServerPath = server.Command
		status.DataDir = server.Env[DataDirEnv]

		if _, err := os.Stat(server.Command); os.IsNotExist(err) {
			status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", server.Command))
		} else if info, err := os.Stat(server.Command); err == nil && info.Mode()&0111 == 0 {
			status.Issues = append(status.Issues, fmt.Sprintf("Server binary is not executable: %s", server.Command))
		}
	} else {
		status.Issues = append(status.Issues, "Server is not registered with the desktop client")
	}

	if status.DataDir == "" {
		status.DataDir = config.DefaultLiteConfig().DataDir
	}
	if _, err := os.Stat(status.DataDir); err == nil {
		status.DataDirFound = true
	}

	return status, nil
}

// Valid reports whether the setup has no blocking issues. A missing data directory is
// created on first run and does not count.
func (s *Status) Valid() bool {
	return s.Registered && len(s.Issues) == 0
}

// Summary renders the status for the terminal
func (s *Status) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config file: %s\n", s.ConfigPath)
	if s.Registered {
		fmt.Fprintf(&b, "Registered: yes (%s)\n", s.ServerPath)
	} else {
		b.WriteString("Registered: no\n")
	}
	if s.DataDirFound {
		fmt.Fprintf(&b, "Data directory: %s\n", s.DataDir)
	} else {
		fmt.Fprintf(&b, "Data directory: %s (created on first run)\n", s.DataDir)
	}
	for _, issue := range s.Issues {
		fmt.Fprintf(&b, "  ! %s\n", issue)
	}
	return b.String()
}
