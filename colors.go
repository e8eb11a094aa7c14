package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/stagelight/plotsync/internal/sync"
)

// ANSI palette for status rendering. Kept to the basic 16 colors so
// output degrades gracefully on minimal terminals.
var (
	styleBold     = lipgloss.NewStyle().Bold(true)
	styleSynced   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	styleSyncing  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	styleDirty    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	styleOffline  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // gray
	styleConflict = lipgloss.NewStyle().Foreground(lipgloss.Color("13")) // magenta
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
)

// stdoutIsTTY reports whether stdout is an interactive terminal. Colored
// and interactive output is only used when it is.
func stdoutIsTTY() bool {
	fd := os.Stdout.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// render applies a style when color is enabled, otherwise returns the
// string unchanged (piped output, --json consumers, dumb terminals).
func render(color bool, style lipgloss.Style, s string) string {
	if !color {
		return s
	}

	return style.Render(s)
}

// displayStyle maps a derived display status to its color.
func displayStyle(ds sync.DisplayStatus) lipgloss.Style {
	switch ds {
	case sync.DisplayOnlineSynced:
		return styleSynced
	case sync.DisplayOnlineSyncing:
		return styleSyncing
	case sync.DisplayOnlineDirty:
		return styleDirty
	case sync.DisplayError:
		return styleError
	default:
		return styleOffline
	}
}
