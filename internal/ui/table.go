package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/governedworks/wbs/internal/types"
)

// PacketRow is one line of the status or ready table.
type PacketRow struct {
	ID         string
	Status     types.Status
	AssignedTo string
	Title      string
}

// RenderPacketTable renders packets into a bordered status table.
func RenderPacketTable(rows []PacketRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No packets.")
	}

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		assigned := r.AssignedTo
		if assigned == "" {
			assigned = "-"
		}
		cells = append(cells, []string{r.ID, RenderStatus(r.Status), assigned, r.Title})
	}

	return table.New().
		Headers("Packet", "Status", "Assigned", "Title").
		Rows(cells...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		}).
		String()
}
