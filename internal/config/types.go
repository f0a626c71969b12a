package config

import "time"

// Restart policies understood by the supervisor.
const (
	RestartNone      = "none"
	RestartAlways    = "always"
	RestartOnFailure = "on-failure"
)

// Overlap policies understood by the scheduler.
const (
	OverlapAllow = "allow"
	OverlapSkip  = "skip"
)

// Config represents the complete vkore configuration.
type Config struct {
	Service         ServiceConfig       `yaml:"service"`
	ModulesDir      string              `yaml:"modules_dir"`
	DependenciesDir string              `yaml:"dependencies_dir"`
	Registry        RegistryConfig      `yaml:"registry"`
	State           StateConfig         `yaml:"state"`
	Supervisor      SupervisorConfig    `yaml:"supervisor"`
	Runtimes        map[string][]string `yaml:"runtimes"`
	API             APIConfig           `yaml:"api,omitempty"`

	// SourcePath is the absolute path of the loaded config.yaml.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name string `yaml:"name"`
	// TickInterval is the scheduler period in whole seconds.
	TickInterval int    `yaml:"tick_interval"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

// Tick returns the scheduler period as a duration.
func (s ServiceConfig) Tick() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// RegistryConfig points at the dependency whitelist service.
type RegistryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// SupervisorConfig controls process lifecycle handling.
type SupervisorConfig struct {
	Restart       string        `yaml:"restart"`
	MaxRestarts   int           `yaml:"max_restarts"`
	RestartDelay  time.Duration `yaml:"restart_delay"`
	Overlap       string        `yaml:"overlap"`
	OutputLines   int           `yaml:"output_lines"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// ChecksumManifest is the on-disk format of .checksums.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// DefaultRuntimes maps entry file extensions to interpreter argv prefixes.
func DefaultRuntimes() map[string][]string {
	return map[string][]string{
		".sh": {"/bin/sh"},
		".py": {"python3"},
	}
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "vkore",
			TickInterval: 60,
			LogLevel:     "info",
			LogFormat:    "json",
		},
		ModulesDir:      "./modules",
		DependenciesDir: "./dependencies",
		Registry: RegistryConfig{
			Timeout: 10 * time.Second,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Supervisor: SupervisorConfig{
			Restart:       RestartNone,
			MaxRestarts:   3,
			RestartDelay:  5 * time.Second,
			Overlap:       OverlapAllow,
			OutputLines:   200,
			ShutdownGrace: 5 * time.Second,
		},
		Runtimes: DefaultRuntimes(),
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
