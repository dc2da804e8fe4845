package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/nine5427/memengine/internal/domain/memengine/manager"
	"github.com/nine5427/memengine/internal/infrastructure/memstore"
)

var (
	colorCyan   = lipgloss.Color("#00D7FF")
	colorGray   = lipgloss.Color("#6C6C6C")
	colorGreen  = lipgloss.Color("#00FF87")
	colorYellow = lipgloss.Color("#FFD75F")
)

func printStats(session memstore.SessionID, s manager.Stats) {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle := lipgloss.NewStyle().Foreground(colorYellow).Bold(true)

	fmt.Println(titleStyle.Render(fmt.Sprintf("◇ session %s", session)))

	row := func(label string, value interface{}) {
		fmt.Printf("  %s %v\n", labelStyle.Render(label+":"), valueStyle.Render(fmt.Sprint(value)))
	}

	row("current tokens", s.CurrentTokens)
	row("short-term messages", s.ShortTermCount)
	row("summaries", s.SummaryCount)
	row("compressions", s.CompressionCount)
	row("input tokens (cumulative)", s.TotalInputTokens)
	row("output tokens (cumulative)", s.TotalOutputTokens)
	row("compression savings", s.TotalSavings)
	row("compression cost", s.CompressionCost)
	row("net savings", s.NetSavings)
	row("estimated cost (usd)", fmt.Sprintf("%.4f", s.TotalCost))

	if s.BudgetStatus.OverBudget {
		fmt.Println("  " + warnStyle.Render(fmt.Sprintf("over budget: %d/%d tokens", s.CurrentTokens, s.BudgetStatus.Total)))
	} else {
		row("budget used", fmt.Sprintf("%.1f%%", s.BudgetStatus.Percentage))
	}
}
