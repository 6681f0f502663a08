package ui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/duocall/internal/call"
)

// CallView shows the live connection state of a call until the user hangs up.
type CallView struct {
	model   *callModel
	updates chan tea.Msg
	done    chan struct{}
	once    sync.Once
}

type stateMsg struct {
	state call.State
	err   error
}

type retryMsg struct {
	err error
}

type quitMsg struct{}

type tickMsg time.Time

// NewCallView creates a view for a call against serverURL. retry, when set,
// is invoked by the "r" key while the call is in Error.
func NewCallView(serverURL string, retry func() error) *CallView {
	updates := make(chan tea.Msg, 16)
	done := make(chan struct{})

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallView{
		model: &callModel{
			serverURL: serverURL,
			spinner:   s,
			retry:     retry,
			now:       time.Now,
			updates:   updates,
			done:      done,
		},
		updates: updates,
		done:    done,
	}
}

// Run draws the view inline and blocks until the user quits or Quit is
// called.
func (v *CallView) Run(opts ...tea.ProgramOption) error {
	_, err := tea.NewProgram(v.model, opts...).Run()
	return err
}

// SetState records a state transition. err is the failure behind Error.
func (v *CallView) SetState(s call.State, err error) {
	select {
	case v.updates <- stateMsg{state: s, err: err}:
	case <-v.done:
	}
}

// Quit stops the view. It is safe to call more than once.
func (v *CallView) Quit() {
	v.once.Do(func() { close(v.done) })
}

type callModel struct {
	serverURL   string
	state       call.State
	err         error
	connectedAt time.Time
	spinner     spinner.Model
	retry       func() error
	retrying    bool
	quitting    bool

	now     func() time.Time
	updates <-chan tea.Msg
	done    <-chan struct{}
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func (m *callModel) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.updates:
			return msg
		case <-m.done:
			return quitMsg{}
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.state != call.Error || m.retry == nil || m.retrying {
				return m, nil
			}
			m.retrying = true
			retry := m.retry
			return m, func() tea.Msg {
				return retryMsg{err: retry()}
			}
		}

	case stateMsg:
		m.state = msg.state
		m.err = msg.err
		switch msg.state {
		case call.Connected:
			if m.connectedAt.IsZero() {
				m.connectedAt = m.now()
			}
		case call.Connecting:
			m.connectedAt = time.Time{}
			m.retrying = false
		}
		return m, m.listen()

	case retryMsg:
		m.retrying = false
		if msg.err != nil {
			m.err = msg.err
		}

	case quitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if !m.quitting {
			return m, tick()
		}
	}
	return m, nil
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(IconCall+" duocall") + "\n")
	b.WriteString(MutedStyle.Render(IconWeb+" "+m.serverURL) + "\n\n")

	icon := StateIcon(m.state)
	if m.state == call.Connecting || m.state == call.Waiting || m.retrying {
		icon = m.spinner.View()
	}
	b.WriteString(fmt.Sprintf("%s %s\n", icon, StateStyle(m.state).Render(m.state.StatusMessage())))

	if m.state == call.Connected && !m.connectedAt.IsZero() {
		b.WriteString(fmt.Sprintf("%s %s\n", IconTime, FormatDuration(m.now().Sub(m.connectedAt))))
	}
	if m.state == call.Error && m.err != nil {
		b.WriteString(ErrorStyle.Render(ErrorText(m.err)) + "\n")
	}

	footer := "Press q to hang up"
	if m.state == call.Error && m.retry != nil {
		footer = "Press r to retry, q to quit"
	}
	b.WriteString("\n" + MutedStyle.Render(footer))
	return b.String()
}

// ErrorText is the user-facing line for a call failure.
func ErrorText(err error) string {
	var ce *call.CallError
	if errors.As(err, &ce) {
		return ce.UserMessage()
	}
	return err.Error()
}

// FormatDuration renders d as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
