package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/duocall/internal/call"
)

func styledTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// SummaryView renders a finished call as a two-column table.
func SummaryView(s call.Summary) string {
	status := IconSuccess + " Ended"
	if s.Err != nil {
		status = IconError + " " + ErrorText(s.Err)
	} else if s.ConnectedAt.IsZero() {
		status = IconHangUp + " Never connected"
	}

	duration := "-"
	if !s.ConnectedAt.IsZero() {
		duration = FormatDuration(s.Duration())
	}

	rows := [][]string{
		{"Status", status},
		{"Role", s.Role.String()},
		{"Final State", s.FinalState.String()},
		{"Duration", duration},
		{"Candidates Sent", strconv.Itoa(s.CandidatesSent)},
		{"Candidates Received", strconv.Itoa(s.CandidatesReceived)},
	}
	if s.TeardownErr != nil {
		rows = append(rows, []string{"Hang-up Errors", s.TeardownErr.Error()})
	}

	return styledTable([]string{"Metric", "Value"}, rows).Render()
}

func RenderSummary(s call.Summary) {
	fmt.Println(SummaryView(s))
}

// CallInfo is the box printed before a call starts.
type CallInfo struct {
	ServerURL string
	VideoFile string
	AudioFile string
	RecordDir string
}

func (c CallInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Primary).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joining call\n\n%s Server:  %s\n%s Video:   %s\n%s Audio:   %s",
		IconCall,
		IconWeb, BoldStyle.Foreground(Primary).Render(c.ServerURL),
		IconPeer, MutedStyle.Render(orNone(c.VideoFile, "receive only")),
		IconPeer, MutedStyle.Render(orNone(c.AudioFile, "receive only")),
	)
	if c.RecordDir != "" {
		content += fmt.Sprintf("\n%s Record:  %s", IconRecord, MutedStyle.Render(c.RecordDir))
	}
	return boxStyle.Render(content)
}

func orNone(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
