// Package brand provides centralized naming constants for the sidecar.
//
// The brand identity is loaded from brand.json at compile time via go:embed
// so packaging scripts can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Vendor           string `json:"vendor"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	BinaryName       string `json:"binaryName"`
	ConfigFileName   string `json:"configFileName"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Vendor = b.Vendor
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	BinaryName = b.BinaryName
	ConfigFileName = b.ConfigFileName
}

var (
	Name             string
	LowerName        string
	Vendor           string
	Description      string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	BinaryName       string
	ConfigFileName   string

	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

// UserAgent returns a User-Agent string for outbound HTTP requests (probe forwarding).
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}

// EnvVar returns the prefixed environment variable name, e.g. SWITCHYARD_LOG_LEVEL.
func EnvVar(suffix string) string {
	return ConfigEnvPrefix + "_" + suffix
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: SWITCHYARD_CONFIG_DIR > SWITCHYARD_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(EnvVar("CONFIG_DIR")); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvVar("PREFIX")); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetConfigPath returns the sidecar configuration file path.
// Priority: SWITCHYARD_CONFIG > GetConfigDir()/ConfigFileName
func GetConfigPath() string {
	if path := os.Getenv(EnvVar("CONFIG")); path != "" {
		return path
	}
	return filepath.Join(GetConfigDir(), ConfigFileName)
}
