package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"replica/internal/domain/task"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// statusColor picks the color of a status cell.
func statusColor(status string) lipgloss.Color {
	switch status {
	case task.StatusActive.String(), task.StatusComplete.String():
		return lipgloss.Color("10")
	case task.StatusRestarting.String(), task.StatusInactive.String():
		return lipgloss.Color("11")
	case task.StatusError.String(), task.StatusTerminate.String():
		return lipgloss.Color("9")
	default:
		return lipgloss.Color("240")
	}
}

// renderTable renders rows under headers. statusCol is the index of a
// status column to color, or -1.
func renderTable(headers []string, rows [][]string, statusCol int) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusCol && row >= 0 && row < len(rows) {
				return cellStyle.Foreground(statusColor(rows[row][col]))
			}
			return cellStyle
		})
	return t.String()
}

func renderInfo(name string, info *task.Info) string {
	rows := [][]string{
		{"task", name},
		{"status", info.Status},
		{"last failed", info.LastFailed},
		{"restarts", strconv.Itoa(info.NumberOfRestarts)},
		{"current streak", strconv.Itoa(info.CurrentNumberOfRestarts)},
		{"max restarts", strconv.Itoa(info.MaxRestarts)},
		{"min up time", fmt.Sprintf("%gs", info.MinUpTime)},
		{"restart delay", fmt.Sprintf("%gs", info.RestartDelay)},
	}
	return renderTable([]string{"field", "value"}, rows, -1)
}
