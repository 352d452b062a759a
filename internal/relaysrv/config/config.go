// Package config loads and validates the relay's TOML configuration and
// provides access to the collaborator-owned settings file holding the
// long-lived token.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// BundleConfig holds bundle builder related configuration
type BundleConfig struct {
	RepoRoot string `toml:"repo_root" validate:"required"` // agent checkout served as the installable bundle
}

// AuthConfig holds device-flow and settings-file related configuration
type AuthConfig struct {
	SettingsPath string `toml:"settings_path" validate:"required"` // settings JSON holding the long-lived token
	ClientID     string `toml:"client_id" validate:"required"`     // OAuth client identifier sent to the provider
	Scope        string `toml:"scope"`                             // requested scope for the device flow
}

// UpstreamConfig holds provider endpoint configuration
type UpstreamConfig struct {
	AuthBaseURL  string            `toml:"auth_base_url" validate:"required,baseurl"` // identity provider base URL
	APIBaseURL   string            `toml:"api_base_url" validate:"required,baseurl"`  // API base URL for proxied calls
	ExtraHeaders map[string]string `toml:"extra_headers"`                             // identification headers injected on forwarded requests
}

// RequestConfig holds request handling configuration
type RequestConfig struct {
	Timeout string `toml:"timeout" validate:"omitempty,reldur"` // timeout applied to JSON endpoints
}

// GetTimeout returns the request timeout as time.Duration
func (r *RequestConfig) GetTimeout() (time.Duration, error) {
	return ParseDuration(r.Timeout)
}

// GetTimeoutOrDefault returns the request timeout as time.Duration
// or panics if the value is invalid
func (r *RequestConfig) GetTimeoutOrDefault() time.Duration {
	duration, err := r.GetTimeout()
	if err != nil {
		panic(fmt.Sprintf("invalid request timeout: %v", err))
	}
	return duration
}

// ConfigParam holds all configuration parameters for the relay
type ConfigParam struct {
	// Configuration version
	FormatVersion string `toml:"format_version"` // Version of this configuration file format

	// Server configuration
	ServerHostName string `toml:"server_hostname"`                 // Hostname the relay binds and advertises
	ServerPort     string `toml:"server_port" validate:"required,port"` // Port for the server
	HandleCORS     bool   `toml:"handle_cors"`                     // Whether to handle CORS
	WorkingDir     string `toml:"working_dir"`                     // Working directory for the relay

	// Bundle configuration
	Bundle BundleConfig `toml:"bundle"`

	// Auth configuration
	Auth AuthConfig `toml:"auth"`

	// Upstream provider configuration
	Upstream UpstreamConfig `toml:"upstream"`

	// Request handling configuration
	Request RequestConfig `toml:"request"`
}

var cfg *ConfigParam

// Config returns the current configuration
func Config() *ConfigParam {
	return cfg
}

// GetURL returns the base URL clients use to reach the relay. The setup
// script and CLI defaults derive from this, so it must reflect the values the
// server actually bound, never compiled-in defaults.
func GetURL() string {
	return "http://" + Config().ServerHostName + ":" + Config().ServerPort
}

// ParseDuration parses a duration string in the format "<number><unit>" where
// unit can be:
// - y: years
// - d: days
// - h: hours
// - m: minutes
// - s: seconds
func ParseDuration(input string) (time.Duration, error) {
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid input format")
	}

	unit := input[len(input)-1:]
	valueStr := input[:len(input)-1]
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}

	var duration time.Duration
	switch unit {
	case "s":
		duration = time.Duration(value) * time.Second
	case "m":
		duration = time.Duration(value) * time.Minute
	case "h":
		duration = time.Duration(value) * time.Hour
	case "d":
		duration = time.Duration(value) * 24 * time.Hour
	case "y":
		// Assuming 1 year = 365 days for simplicity
		duration = time.Duration(value) * 365 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}

	return duration, nil
}

// ValidateConfig checks if all required configuration values are present and
// valid, applying defaults for optional fields.
func ValidateConfig(cfg *ConfigParam) error {
	// Check if the config file format version is supported
	if cfg.FormatVersion != ConfigFormatVersion {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}

	if cfg.ServerHostName == "" {
		cfg.ServerHostName = "127.0.0.1"
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8787"
	}
	if cfg.Request.Timeout == "" {
		cfg.Request.Timeout = "30s"
	}
	if cfg.Auth.Scope == "" {
		cfg.Auth.Scope = "agent:full"
	}

	if cfg.WorkingDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error getting user home directory: %v", err)
		}
		cfg.WorkingDir = filepath.Join(homeDir, ".gantry")
	} else {
		expanded, err := expandPath(cfg.WorkingDir)
		if err != nil {
			return err
		}
		cfg.WorkingDir = expanded
	}
	if err := os.MkdirAll(cfg.WorkingDir, 0700); err != nil {
		return fmt.Errorf("error creating working directory: %v", err)
	}

	if cfg.Bundle.RepoRoot != "" {
		expanded, err := expandPath(cfg.Bundle.RepoRoot)
		if err != nil {
			return err
		}
		absRoot, err := filepath.Abs(expanded)
		if err != nil {
			return fmt.Errorf("error resolving bundle.repo_root: %v", err)
		}
		cfg.Bundle.RepoRoot = absRoot
	}

	if cfg.Auth.SettingsPath != "" {
		expanded, err := expandPath(cfg.Auth.SettingsPath)
		if err != nil {
			return err
		}
		cfg.Auth.SettingsPath = expanded
		// the settings file itself may not exist until the first login, but
		// its directory must so the watcher can observe it appearing
		if err := os.MkdirAll(filepath.Dir(cfg.Auth.SettingsPath), 0700); err != nil {
			return fmt.Errorf("error creating settings directory: %v", err)
		}
	}

	cfg.Upstream.AuthBaseURL = strings.TrimRight(cfg.Upstream.AuthBaseURL, "/")
	cfg.Upstream.APIBaseURL = strings.TrimRight(cfg.Upstream.APIBaseURL, "/")

	if err := V().Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("invalid value for %s: failed %s check", ve.Namespace(), ve.Tag())
		}
		return fmt.Errorf("invalid configuration: %v", err)
	}

	return nil
}

// applyEnvOverrides lets the environment take precedence over file values.
// The external installer uses these to point a stock config at the right
// checkout without rewriting the file.
func applyEnvOverrides(cfg *ConfigParam) {
	if v := os.Getenv("GANTRY_HOST"); v != "" {
		cfg.ServerHostName = v
	}
	if v := os.Getenv("GANTRY_PORT"); v != "" {
		cfg.ServerPort = v
	}
	if v := os.Getenv("GANTRY_REPO_ROOT"); v != "" {
		cfg.Bundle.RepoRoot = v
	}
	if v := os.Getenv("GANTRY_SETTINGS"); v != "" {
		cfg.Auth.SettingsPath = v
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("error getting user home directory: %v", err)
		}
		return filepath.Join(homeDir, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

// LoadConfig loads configuration from a file
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("config filename is required")
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	cfg = &ConfigParam{}
	if _, err := toml.Decode(string(content), cfg); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}

	applyEnvOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	return nil
}

// ConfigFormatVersion is the current version of the configuration file format
const ConfigFormatVersion = "0.1.0"

// TestInit loads a self-contained configuration rooted in a temp directory.
// Tests that talk upstream replace the Upstream URLs with their stub servers.
func TestInit(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	settingsPath := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(settingsPath, []byte("{}\n"), 0600); err != nil {
		panic(fmt.Errorf("error writing test settings: %v", err))
	}
	repoRoot := filepath.Join(dir, "repo")
	if err := os.MkdirAll(repoRoot, 0755); err != nil {
		panic(fmt.Errorf("error creating test repo root: %v", err))
	}

	// port 9 (discard) so a test that forgets to stub upstream fails fast
	conf := fmt.Sprintf(`format_version = "0.1.0"
server_hostname = "127.0.0.1"
server_port = "8787"
working_dir = %q

[bundle]
repo_root = %q

[auth]
settings_path = %q
client_id = "gantry-test"
scope = "agent:full"

[upstream]
auth_base_url = "http://127.0.0.1:9"
api_base_url = "http://127.0.0.1:9"
`, dir, repoRoot, settingsPath)

	confPath := filepath.Join(dir, "gantry.conf")
	if err := os.WriteFile(confPath, []byte(conf), 0644); err != nil {
		panic(fmt.Errorf("error writing test config: %v", err))
	}
	if err := LoadConfig(confPath); err != nil {
		panic(fmt.Errorf("error loading config: %v", err))
	}
}
