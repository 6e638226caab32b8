package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vigilops/bastion/internal/chunk"
	"github.com/vigilops/bastion/internal/config"
	"github.com/vigilops/bastion/internal/extract"
	"github.com/vigilops/bastion/internal/llm"
	"github.com/vigilops/bastion/internal/logging"
	"github.com/vigilops/bastion/internal/pipeline"
	"github.com/vigilops/bastion/internal/server"
	"github.com/vigilops/bastion/internal/store"
	"github.com/vigilops/bastion/internal/syncer"
	"github.com/vigilops/bastion/internal/taxonomy"
	"github.com/vigilops/bastion/internal/watcher"
)

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat("config.toml"); err == nil {
		return config.Load("config.toml")
	}
	return config.Default(""), nil
}

// buildOrchestrator wires the whole pipeline. Any error here is
// fatal-for-process: the daemon refuses to start rather than running
// degraded.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline.Orchestrator, *store.Store, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("persistence store unavailable: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("persistence store unreachable: %w", err)
	}

	llmClient, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	rules := taxonomy.DefaultRules()
	version := cfg.Pipeline.TaxonomyVersion
	if cfg.Pipeline.TaxonomyRules != "" {
		loaded, fileVersion, err := taxonomy.LoadRules(cfg.Pipeline.TaxonomyRules)
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		rules = loaded
		if fileVersion != "" {
			version = fileVersion
		}
	}

	orch := pipeline.NewOrchestrator(
		cfg,
		st,
		chunk.NewChunker(cfg.Pipeline.MaxChunkBytes),
		extract.NewExtractor(llmClient, cfg.LLMTimeout(), logger),
		taxonomy.NewClassifier(rules, version),
		syncer.New(st, logger),
		logger,
	)
	return orch, st, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher daemon and HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Dirs.Logs, cfg.Debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			orch, st, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			w := watcher.New(cfg.Dirs.Incoming, cfg.ScanInterval(), func(ctx context.Context, path string) error {
				_, err := orch.Process(ctx, path, "watcher")
				return err
			}, logger)
			orch.SetWatcher(w)

			if err := w.Start(); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer w.Stop()

			srv := server.NewServer(orch, st)
			r := srv.SetupRouter()

			logger.Info("bastiond serving",
				zap.String("port", cfg.Server.Port),
				zap.String("incoming", cfg.Dirs.Incoming))
			return r.Run(":" + cfg.Server.Port)
		},
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <file>",
		Short: "Run one file through the pipeline and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Dirs.Logs, cfg.Debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			orch, st, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			outcome, err := orch.Process(ctx, args[0], "cli")
			if err != nil {
				return err
			}
			fmt.Printf("submission %s -> %s (%d records, avg confidence %.2f)\n",
				outcome.SubmissionID, outcome.Status, outcome.RecordCount, outcome.AvgConfidence)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the last published pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Dirs.Logs, "status.json")
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("no status published yet (%s): %w", path, err)
			}

			var pretty map[string]interface{}
			if err := json.Unmarshal(data, &pretty); err != nil {
				return err
			}
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}
