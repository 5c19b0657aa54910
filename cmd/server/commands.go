package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/cyppan/simple-site-analytics/internal/auth"
	"github.com/cyppan/simple-site-analytics/internal/config"
)

// runInit handles the "init" subcommand
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	username := fs.String("username", "", "Dashboard username (required)")
	password := fs.String("password", "", "Dashboard password (required)")
	domain := fs.String("domain", "", "Public URL of the server")
	port := fs.String("port", "", "Server port")
	env := fs.String("env", "", "Environment: development or production")
	configPath := fs.String("config", config.DefaultConfigPath, "Where to write the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.ExpandPath(*configPath)
	if err := initCommand(*username, *password, *domain, *port, *env, path); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✓ Configuration created!")
	fmt.Println()
	fmt.Printf("Config file: %s\n", path)
	fmt.Printf("Username:    %s\n", *username)
	fmt.Println("Password:    [hashed and saved]")
	fmt.Println()
	fmt.Println("To start the server:")
	fmt.Printf("  ssa-server --config %s\n", path)
	fmt.Println()
	return nil
}

// initCommand writes a new config file with hashed credentials.
// It refuses to overwrite an existing config.
func initCommand(username, password, domain, port, env, configPath string) error {
	if username == "" || password == "" {
		return errors.New("--username and --password are required")
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s (use set-credentials to change the login)", configPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check config: %w", err)
	}

	cfg := config.CreateDefaultConfig()
	cfg.Database.Path = filepath.Join(filepath.Dir(configPath), "analytics.db")
	if domain != "" {
		cfg.Server.Domain = domain
	}
	if port != "" {
		cfg.Server.Port = port
	}
	if env != "" {
		cfg.Server.Env = env
	}

	reportPasswordStrength(password)
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	cfg.Auth = config.AuthConfig{Username: username, PasswordHash: hash}

	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.SaveToFile(cfg, configPath)
}

// runSetCredentials handles the "set-credentials" subcommand
func runSetCredentials(args []string) error {
	fs := flag.NewFlagSet("set-credentials", flag.ContinueOnError)
	username := fs.String("username", "", "New dashboard username")
	password := fs.String("password", "", "New dashboard password")
	configPath := fs.String("config", config.DefaultConfigPath, "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.ExpandPath(*configPath)
	if err := setCredentialsCommand(*username, *password, path); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✓ Credentials updated!")
	fmt.Printf("Config file: %s\n", path)
	fmt.Println("Restart the server to apply the change.")
	fmt.Println()
	return nil
}

// setCredentialsCommand updates the username, the password or both in an existing config
func setCredentialsCommand(username, password, configPath string) error {
	if username == "" && password == "" {
		return errors.New("at least one of --username or --password is required")
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found, run 'ssa-server init' first", configPath)
		}
		return err
	}

	if username != "" {
		cfg.Auth.Username = username
	}
	if password != "" {
		reportPasswordStrength(password)
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		cfg.Auth.PasswordHash = hash
	}

	return config.SaveToFile(cfg, configPath)
}

func reportPasswordStrength(password string) {
	isStrong, warnings := auth.ValidatePasswordStrength(password)
	if len(warnings) > 0 {
		log.Println("Password strength warnings:")
		for _, warning := range warnings {
			log.Printf("  - %s", warning)
		}
	}
	if isStrong {
		log.Println("Password strength: Strong")
	} else {
		log.Println("Password strength: Weak (but acceptable)")
	}
}
