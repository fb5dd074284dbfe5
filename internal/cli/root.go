// Package cli implements the ltm CLI commands. Commands are thin wrappers:
// flag parsing and JSON output only, with all behavior in the memory service.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexltm/ltm/internal/config"
	"github.com/cortexltm/ltm/internal/memory"
	"github.com/cortexltm/ltm/internal/provider"
	"github.com/cortexltm/ltm/internal/retry"
	"github.com/cortexltm/ltm/internal/store"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "ltm",
	Short: "Long-term memory for conversational agents",
	Long:  "Append-only conversation log with rolling summaries and durable master memory. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $LTM_CONFIG or ~/.ltm/config.yaml)")
}

func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func openStore(cfg config.Config) *store.SQLiteStore {
	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		exitErr("open store", err)
	}
	return s
}

// openService builds the full pipeline from config. The caller closes the
// returned store.
func openService() (*memory.Service, *store.SQLiteStore) {
	cfg := loadConfig()
	s := openStore(cfg)
	svc := memory.New(s, buildEmbedder(cfg), buildGenerator(cfg), cfg.Policy, nil)
	return svc, s
}

func buildEmbedder(cfg config.Config) provider.Embedder {
	p := cfg.Embedding
	switch strings.ToLower(p.Kind) {
	case "ollama":
		return provider.NewOllamaEmbedder(p.BaseURL, p.Model, p.Timeout.Std())
	case "openai", "":
		return provider.NewOpenAIEmbedder(providerOptions(cfg, p), p.Dims)
	default:
		return provider.Disabled{Name: p.Kind}
	}
}

func buildGenerator(cfg config.Config) provider.Generator {
	p := cfg.Generation
	switch strings.ToLower(p.Kind) {
	case "openai", "":
		return provider.NewOpenAIGenerator(providerOptions(cfg, p), p.Temperature, p.MaxTokens)
	case "ollama":
		// Ollama serves an OpenAI-compatible chat API under /v1.
		opts := providerOptions(cfg, p)
		if opts.BaseURL != "" && !strings.HasSuffix(opts.BaseURL, "/v1") {
			opts.BaseURL = strings.TrimRight(opts.BaseURL, "/") + "/v1"
		}
		return provider.NewOpenAIGenerator(opts, p.Temperature, p.MaxTokens)
	default:
		return provider.Disabled{Name: p.Kind}
	}
}

func providerOptions(cfg config.Config, p config.Provider) provider.Options {
	return provider.Options{
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
		Model:   p.Model,
		Timeout: p.Timeout.Std(),
		Retry:   retry.Policy{Attempts: cfg.RetryAttempts, Backoff: 500 * time.Millisecond, Cap: 5 * time.Second},
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
