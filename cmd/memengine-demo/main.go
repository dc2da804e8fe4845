package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nine5427/memengine/internal/domain/memengine"
	"github.com/nine5427/memengine/internal/domain/memengine/compress"
	"github.com/nine5427/memengine/internal/domain/memengine/manager"
	"github.com/nine5427/memengine/internal/domain/memengine/scope"
	"github.com/nine5427/memengine/internal/domain/memengine/token"
	"github.com/nine5427/memengine/internal/infrastructure/config"
	"github.com/nine5427/memengine/internal/infrastructure/logger"
	"github.com/nine5427/memengine/internal/infrastructure/memstore"
	"github.com/nine5427/memengine/internal/infrastructure/memstore/filestore"
	"github.com/nine5427/memengine/internal/infrastructure/tokenizer"
	"github.com/nine5427/memengine/pkg/safego"
)

const demoVersion = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "memengine-demo",
		Short: "Conversation memory engine demo",
		Long:  "Drives the memory engine through a scripted conversation and prints its stats.",
		RunE:  runDemo,
	}

	rootCmd.Flags().StringP("session", "s", "", "resume an existing session by ID or prefix")
	rootCmd.Flags().Int("messages", 30, "number of synthetic messages to feed through the engine")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "list known sessions",
		RunE:  runSessions,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memengine-demo v%s\n", demoVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildManager(cfg *config.Config, log *zap.Logger) (*manager.Manager, memstore.Store, error) {
	counter := token.NewCounter(tokenizer.NewHeuristicTokenizer(), tokenizer.DefaultRates(), log)
	counter.Register(cfg.Provider.Name, cfg.Provider.Model, tokenizer.NewAnthropicTokenizer())

	summarizer := newFakeSummarizer()
	compressor := compress.New(summarizer, counter, cfg.Provider.Name, cfg.Provider.Model, log)

	mgr := manager.New(cfg.Memory.ToMemEngineConfig(), cfg.Provider.Name, cfg.Provider.Model, counter, compressor, log)

	store, err := filestore.New(cfg.Store.RootDir)
	if err != nil {
		return nil, nil, err
	}
	return mgr, store, nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	mgr, store, err := buildManager(cfg, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	ctx := context.Background()

	sessionFlag, _ := cmd.Flags().GetString("session")
	sessionID, err := resolveSession(ctx, store, cfg, sessionFlag, mgr)
	if err != nil {
		return err
	}

	n, _ := cmd.Flags().GetInt("messages")
	registry := scope.NewRegistry()
	rootIdx := registry.Create(scope.StateGlobal, mgr, -1)
	root := registry.Get(rootIdx)

	var snapshots sync.WaitGroup
	onCheckpoint := func() {
		snapshots.Add(1)
		safego.Go(log, "session-checkpoint", func() {
			defer snapshots.Done()
			if err := store.SaveMemory(ctx, sessionID, mgr.SystemMessages(), mgr.ShortTermMessages(), mgr.Summaries()); err != nil {
				log.Error("background checkpoint failed", zap.Error(err))
			}
		})
	}

	if err := runScript(ctx, mgr, root, n, onCheckpoint); err != nil {
		return err
	}
	snapshots.Wait()

	if err := store.SaveMemory(ctx, sessionID, mgr.SystemMessages(), mgr.ShortTermMessages(), mgr.Summaries()); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	printStats(sessionID, mgr.GetStats())
	return nil
}

func resolveSession(ctx context.Context, store memstore.Store, cfg *config.Config, flag string, mgr *manager.Manager) (memstore.SessionID, error) {
	if flag != "" {
		id, ok, err := store.FindSessionByPrefix(ctx, flag)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no session matching prefix %q", flag)
		}
		data, err := store.LoadSession(ctx, id)
		if err != nil {
			return "", err
		}
		mgr.RestoreSnapshot(data.SystemMessages, data.Summaries, data.Messages)
		return id, nil
	}

	engineCfg := cfg.Memory.ToMemEngineConfig()
	return store.CreateSession(ctx, map[string]interface{}{"created_by": "memengine-demo"}, &engineCfg)
}

// runScript feeds a synthetic agent run through the engine: a system prompt,
// then alternating user/assistant turns where every third assistant turn
// issues a tool call answered by the following tool message. onCheckpoint,
// if non-nil, fires every 10 steps so the session can be persisted in the
// background without blocking the scripted run.
func runScript(ctx context.Context, mgr *manager.Manager, root *scope.View, n int, onCheckpoint func()) error {
	if err := mgr.AddMessage(ctx, memengine.Message{
		Role:    memengine.RoleSystem,
		Content: memengine.TextContent{Text: "You are a careful coding assistant."},
	}, nil); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		user := memengine.Message{
			Role:    memengine.RoleUser,
			Content: memengine.TextContent{Text: fmt.Sprintf("step %d: please continue the task", i)},
		}
		if err := mgr.AddMessage(ctx, user, nil); err != nil {
			return err
		}
		root.AddMessage(user)

		if i%3 == 2 {
			toolID := fmt.Sprintf("call_%d", i)
			assistant := memengine.Message{
				Role: memengine.RoleAssistant,
				Content: memengine.BlockContent{Blocks: []memengine.ContentBlock{
					memengine.ToolUseContentBlock(toolID, "read_file", map[string]interface{}{"path": "main.go"}),
				}},
			}
			if err := mgr.AddMessage(ctx, assistant, nil); err != nil {
				return err
			}
			result := memengine.Message{
				Role:       memengine.RoleTool,
				Content:    memengine.TextContent{Text: "package main\n..."},
				ToolCallID: toolID,
				Name:       "read_file",
			}
			if err := mgr.AddMessage(ctx, result, nil); err != nil {
				return err
			}
			if onCheckpoint != nil && i > 0 && i%10 == 0 {
				onCheckpoint()
			}
			continue
		}

		assistant := memengine.Message{
			Role:    memengine.RoleAssistant,
			Content: memengine.TextContent{Text: fmt.Sprintf("acknowledged step %d", i)},
		}
		if err := mgr.AddMessage(ctx, assistant, &manager.TokenUsage{Input: 120, Output: 40}); err != nil {
			return err
		}
		root.AddMessage(assistant)

		if onCheckpoint != nil && i > 0 && i%10 == 0 {
			onCheckpoint()
		}
	}

	return nil
}
