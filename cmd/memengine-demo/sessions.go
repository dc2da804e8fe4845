package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nine5427/memengine/internal/infrastructure/config"
	"github.com/nine5427/memengine/internal/infrastructure/logger"
	"github.com/nine5427/memengine/internal/infrastructure/memstore/filestore"
)

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	store, err := filestore.New(cfg.Store.RootDir)
	if err != nil {
		return err
	}

	sessions, err := store.ListSessions(context.Background(), 50, 0)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions found")
		return nil
	}

	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	grayStyle := lipgloss.NewStyle().Foreground(colorGray)

	for _, s := range sessions {
		fmt.Printf("%s  %s\n", titleStyle.Render(string(s.ID)[:8]), grayStyle.Render(s.UpdatedAt.Format("2006-01-02 15:04")))
		fmt.Printf("  messages=%d summaries=%d compressions=%d\n", s.MessageCount, s.SummaryCount, s.CompressionCount)
		if s.Preview != "" {
			fmt.Printf("  %s\n", s.Preview)
		}
	}
	return nil
}
