package ui

import (
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/duocall/internal/signaling"
)

// StatusView renders a room status snapshot. at is omitted when zero.
func StatusView(st signaling.RoomStatus, at time.Time) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.SetTitle(IconRoom + " Room Status")
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Participants", strconv.Itoa(st.UsersCount) + "/2"},
		{"Offer", yesNo(st.HasOffer)},
		{"Answer", yesNo(st.HasAnswer)},
		{"ICE Candidates", st.IceCandidatesCount},
	})
	if !at.IsZero() {
		t.AppendFooter(table.Row{"Updated", at.Format(time.TimeOnly)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: text.Colors{text.Bold}},
		{Number: 2, Align: text.AlignRight},
	})
	return t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
