package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFilename is the name looked up inside a config directory.
const ConfigFilename = "config.yaml"

// EnvConfigDir overrides the config directory search.
const EnvConfigDir = "VKORE_CONFIG_DIR"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding
// config.yaml. Relative paths in the file are resolved against its directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFilename)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", ConfigFilename, absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes a config document, interpolates ${VAR} references and applies
// defaults. It does not validate.
//
// Settings where 0 is meaningful are seeded before decoding, so an explicit
// zero in the document survives.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	defaults := Defaults()
	cfg := Config{Supervisor: SupervisorConfig{
		MaxRestarts:  defaults.Supervisor.MaxRestarts,
		RestartDelay: defaults.Supervisor.RestartDelay,
	}}
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return applyConfigDefaults(&cfg), nil
}

// DiscoverConfigDir finds the config location by checking standard places.
// Priority order: $VKORE_CONFIG_DIR, ~/.config/vkore, /etc/vkore, ./config.yaml.
// The --config flag bypasses discovery entirely.
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "vkore")
		if _, err := os.Stat(filepath.Join(userConfigDir, ConfigFilename)); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/vkore"
	if _, err := os.Stat(filepath.Join(systemConfigDir, ConfigFilename)); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./" + ConfigFilename
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/vkore, /etc/vkore, ./%s)", EnvConfigDir, ConfigFilename)
}

// ResolveConfigPath returns flagValue when set, otherwise the discovered location.
func ResolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return DiscoverConfigDir()
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.ModulesDir == "" {
		cfg.ModulesDir = defaults.ModulesDir
	}
	if cfg.DependenciesDir == "" {
		cfg.DependenciesDir = defaults.DependenciesDir
	}

	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = defaults.Registry.Timeout
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	sup := &cfg.Supervisor
	if sup.Restart == "" {
		sup.Restart = defaults.Supervisor.Restart
	}
	if sup.Overlap == "" {
		sup.Overlap = defaults.Supervisor.Overlap
	}
	if sup.OutputLines == 0 {
		sup.OutputLines = defaults.Supervisor.OutputLines
	}
	if sup.ShutdownGrace == 0 {
		sup.ShutdownGrace = defaults.Supervisor.ShutdownGrace
	}

	if len(cfg.Runtimes) == 0 {
		cfg.Runtimes = defaults.Runtimes
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

func resolvePaths(cfg *Config, baseDir string) {
	cfg.ModulesDir = resolvePath(baseDir, cfg.ModulesDir)
	cfg.DependenciesDir = resolvePath(baseDir, cfg.DependenciesDir)
	cfg.State.Path = resolvePath(baseDir, cfg.State.Path)
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be a positive number of seconds")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.ModulesDir == "" {
		return fmt.Errorf("modules_dir is required")
	}
	if cfg.DependenciesDir == "" {
		return fmt.Errorf("dependencies_dir is required")
	}

	if err := checkUnresolved("registry.url", cfg.Registry.URL); err != nil {
		return err
	}
	if cfg.Registry.Timeout < 0 {
		return fmt.Errorf("registry.timeout must not be negative")
	}

	sup := cfg.Supervisor
	switch sup.Restart {
	case RestartNone, RestartAlways, RestartOnFailure:
	default:
		return fmt.Errorf("supervisor.restart must be one of: %s, %s, %s (got %q)",
			RestartNone, RestartAlways, RestartOnFailure, sup.Restart)
	}
	switch sup.Overlap {
	case OverlapAllow, OverlapSkip:
	default:
		return fmt.Errorf("supervisor.overlap must be %s or %s (got %q)", OverlapAllow, OverlapSkip, sup.Overlap)
	}
	if sup.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts must not be negative")
	}
	if sup.RestartDelay < 0 {
		return fmt.Errorf("supervisor.restart_delay must not be negative")
	}
	if sup.OutputLines < 0 {
		return fmt.Errorf("supervisor.output_lines must not be negative")
	}

	for ext, argv := range cfg.Runtimes {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("runtimes: extension %q must start with a dot", ext)
		}
		for _, a := range argv {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("runtimes[%s]: empty argument", ext)
			}
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required when api is enabled")
		}
		if err := checkUnresolved("api.api_key", cfg.API.APIKey); err != nil {
			return err
		}
	}

	return nil
}

// checkUnresolved rejects values that still carry a ${VAR} placeholder.
func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
