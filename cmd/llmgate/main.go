// Package main is the entry point for LLMGate.
//
//	@title						LLMGate API
//	@version					1.0
//	@description				Rate-limited, quota-accounted gateway in front of an OpenAI-compatible chat API.
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
//	@description				API key for authentication
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/artpar/llmgate/adapters/idgen"
	"github.com/artpar/llmgate/adapters/sqlite"
	"github.com/artpar/llmgate/bootstrap"
	"github.com/artpar/llmgate/config"
	"github.com/artpar/llmgate/domain/key"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "llmgate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	hotReload := flag.Bool("hot-reload", true, "Enable hot reload of configuration")
	genKey := flag.String("gen-key", "", "Issue a new API key for the named subject and exit")
	revokeKey := flag.String("revoke-key", "", "Revoke issued keys matching the given prefix and exit")
	flag.Parse()

	// Version command
	if *showVersion {
		fmt.Printf("llmgate %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Validate only mode
	if *validate {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration valid\n")
		fmt.Printf("  Model: %s\n", cfg.LLM.Model)
		fmt.Printf("  Static keys: %d\n", len(cfg.Auth.Keys))
		fmt.Printf("  Daily token limit: %d\n", cfg.Limits.MaxTokensPerDay)
		os.Exit(0)
	}

	// Key management commands
	if *genKey != "" {
		if err := issueKey(*configPath, *genKey); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	if *revokeKey != "" {
		if err := revokeKeys(*configPath, *revokeKey); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Create application
	var app *bootstrap.App
	var err error

	if *hotReload && fileExists(*configPath) {
		app, err = bootstrap.NewWithHotReload(*configPath)
	} else {
		cfg, loadErr := config.LoadWithFallback(*configPath)
		if loadErr != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", loadErr)
			os.Exit(1)
		}
		app, err = bootstrap.New(cfg)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}

	// Run (blocks until shutdown)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// issueKey generates a key, stores its hash, and prints the plaintext.
// The plaintext is shown exactly once; only the hash survives.
func issueKey(configPath, name string) error {
	cfg, err := config.LoadWithFallback(configPath)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	gen, err := key.Generate()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := sqlite.NewKeyStore(db)
	if err := store.Create(ctx, key.Key{
		ID:        idgen.UUID{}.New(),
		Name:      name,
		Prefix:    gen.Prefix,
		Hash:      gen.Hash,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	fmt.Printf("Key issued for %q:\n", name)
	fmt.Printf("  %s\n", gen.Plain)
	fmt.Printf("This is the only time the full key is shown. Store it now.\n")
	if !cfg.Auth.KeysDB {
		fmt.Printf("Note: auth.keys_db is disabled; enable it for this key to be accepted.\n")
	}
	return nil
}

func revokeKeys(configPath, prefix string) error {
	cfg, err := config.LoadWithFallback(configPath)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := sqlite.NewKeyStore(db).RevokeByPrefix(ctx, prefix, time.Now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no active keys match prefix %q", prefix)
	}

	fmt.Printf("Revoked %d key(s) matching %q\n", n, prefix)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
