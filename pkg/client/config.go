package client

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Local      LocalSection      `toml:"local"`
	Typing     TypingSection     `toml:"typing"`
	UI         UISection         `toml:"ui"`
	Metrics    MetricsSection    `toml:"metrics"`
}

type ConnectionSection struct {
	Server                   string `toml:"server"`
	UseTLS                   bool   `toml:"use_tls"`
	AutoReconnect            bool   `toml:"auto_reconnect"`
	ReconnectMaxDelaySeconds int    `toml:"reconnect_max_delay_seconds"`
	RequestTimeoutSeconds    int    `toml:"request_timeout_seconds"`
}

type LocalSection struct {
	StateDB       string `toml:"state_db"`
	AvatarBaseURL string `toml:"avatar_base_url"`
}

type TypingSection struct {
	DebounceMS int `toml:"debounce_ms"`
	ExpiryMS   int `toml:"expiry_ms"` // 0 disables expiry of remote typing indicators
}

type UISection struct {
	DarkMode      bool   `toml:"dark_mode"`
	Notifications bool   `toml:"notifications"`
	DefaultRoom   string `toml:"default_room"`
}

type MetricsSection struct {
	ListenAddr string `toml:"listen_addr"` // empty disables the metrics endpoint
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.LineNumber)
	}
	return e.Message
}

// getXDGConfigHome returns the XDG config directory
func getXDGConfigHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// getXDGDataHome returns the XDG data directory
func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultConfigPath returns the config file location under XDG_CONFIG_HOME
func DefaultConfigPath() string {
	return filepath.Join(getXDGConfigHome(), "chatsync", "config.toml")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	dataHome := getXDGDataHome()
	stateDB := filepath.Join(dataHome, "chatsync", "state.db")

	return TOMLConfig{
		Connection: ConnectionSection{
			Server:                   "localhost:3001",
			UseTLS:                   false,
			AutoReconnect:            true,
			ReconnectMaxDelaySeconds: 30,
			RequestTimeoutSeconds:    10,
		},
		Local: LocalSection{
			StateDB:       stateDB,
			AvatarBaseURL: DefaultAvatarBaseURL,
		},
		Typing: TypingSection{
			DebounceMS: 2000,
			ExpiryMS:   5000,
		},
		UI: UISection{
			DarkMode:      true,
			Notifications: false,
			DefaultRoom:   "global",
		},
		Metrics: MetricsSection{
			ListenAddr: "",
		},
	}
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Unwritable config dir is not fatal, run on defaults
			return config, nil
		}
		return config, nil
	}

	// Start from defaults so sections missing from the file keep sane values
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:    path,
			Message: err.Error(),
		}
	}

	return config, nil
}

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	// TOML errors typically format like "line 12: ..." or "at line 12"
	re := regexp.MustCompile(`line (\d+)`)
	matches := re.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// cleanErrorMessage removes redundant parts from error messages
func cleanErrorMessage(errMsg string) string {
	return strings.TrimPrefix(errMsg, "toml: ")
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var errors []string

	if strings.TrimSpace(config.Connection.Server) == "" {
		errors = append(errors, "Server address cannot be empty")
	}

	if config.Connection.ReconnectMaxDelaySeconds < 0 {
		errors = append(errors, "Reconnect max delay cannot be negative")
	}

	if config.Connection.RequestTimeoutSeconds < 0 {
		errors = append(errors, "Request timeout cannot be negative")
	}

	if config.Typing.DebounceMS <= 0 {
		errors = append(errors, fmt.Sprintf("Invalid typing debounce: %dms (must be positive)", config.Typing.DebounceMS))
	}

	if config.Typing.ExpiryMS < 0 {
		errors = append(errors, "Typing expiry cannot be negative")
	}

	if strings.TrimSpace(config.Local.StateDB) == "" {
		errors = append(errors, "State database path cannot be empty")
	}

	if len(errors) > 0 {
		return fmt.Errorf("Configuration validation failed:\n  • %s", strings.Join(errors, "\n  • "))
	}

	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# chatsync client configuration
# This file was auto-generated with default values
# Edit as needed - changes take effect on next client start

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetStateDBPath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStateDBPath() (string, error) {
	return expandHome(c.Local.StateDB)
}

// hostAndScheme splits the configured server into host and TLS flag.
// An explicit http(s):// or ws(s):// prefix overrides use_tls.
func (c *TOMLConfig) hostAndScheme() (string, bool) {
	server := strings.TrimSpace(c.Connection.Server)
	useTLS := c.Connection.UseTLS

	if i := strings.Index(server, "://"); i >= 0 {
		switch strings.ToLower(server[:i]) {
		case "https", "wss":
			useTLS = true
		case "http", "ws":
			useTLS = false
		}
		server = server[i+3:]
	}

	return strings.TrimSuffix(server, "/"), useTLS
}

// SocketURL returns the websocket endpoint for the configured server
func (c *TOMLConfig) SocketURL() string {
	host, useTLS := c.hostAndScheme()
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/socket"}
	return u.String()
}

// APIBaseURL returns the REST base URL for the configured server
func (c *TOMLConfig) APIBaseURL() string {
	host, useTLS := c.hostAndScheme()
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: host}
	return u.String()
}

// TransportConfig derives the socket transport settings
func (c *TOMLConfig) TransportConfig() TransportConfig {
	return TransportConfig{
		URL:               c.SocketURL(),
		AutoReconnect:     c.Connection.AutoReconnect,
		MaxReconnectDelay: time.Duration(c.Connection.ReconnectMaxDelaySeconds) * time.Second,
	}
}

// RequestTimeout returns the REST request timeout
func (c *TOMLConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Connection.RequestTimeoutSeconds) * time.Second
}

// TypingDebounce returns the idle period after which typing stops
func (c *TOMLConfig) TypingDebounce() time.Duration {
	return time.Duration(c.Typing.DebounceMS) * time.Millisecond
}

// TypingExpiry returns how long a remote typing indicator survives without a stop event
func (c *TOMLConfig) TypingExpiry() time.Duration {
	return time.Duration(c.Typing.ExpiryMS) * time.Millisecond
}

// ResetConfigToDefault resets the config file to default values
// If backup is true, creates a backup with timestamp
func ResetConfigToDefault(path string, backup bool) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if backup {
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	if err := writeDefaultConfig(path, DefaultTOMLConfig()); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
