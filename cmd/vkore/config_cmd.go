package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/doctor"
	"github.com/mattjoyce/vkore/internal/module"
)

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	// A missing modules_dir is reported by the doctor, not treated as fatal.
	registry, err := discoverForTool(cfg)
	if err != nil {
		registry = module.NewRegistry(nil)
	}

	result := doctor.New(cfg, registry).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	configDir, err := resolveConfigDir(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config: %v\n", err)
		return 1
	}

	manifest, err := config.Lock(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", configDir, err)
		return 1
	}

	fmt.Printf("Locked %s\n", filepath.Join(configDir, config.ChecksumsFilename))
	fmt.Printf("  %s  %s\n", manifest.Hashes[config.ConfigFilename], config.ConfigFilename)
	return 0
}

// resolveConfigDir returns the directory holding config.yaml for a --config
// value that may name either the file or its directory.
func resolveConfigDir(configPath string) (string, error) {
	target, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return "", err
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absTarget)
	if err != nil {
		return "", fmt.Errorf("config target not found: %w", err)
	}

	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(absTarget, config.ConfigFilename)); err != nil {
			return "", fmt.Errorf("%s not found in %s", config.ConfigFilename, absTarget)
		}
		return absTarget, nil
	}
	if filepath.Base(absTarget) != config.ConfigFilename {
		return "", fmt.Errorf("config lock expects %s, got %s", config.ConfigFilename, filepath.Base(absTarget))
	}
	return filepath.Dir(absTarget), nil
}
