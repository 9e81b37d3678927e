package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/rag"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type entry struct {
	user    bool
	content string
	sources []string
	err     string
}

// Stream messages carry the sequence number of the query they belong to.
// stop advances the sequence, so messages of a finished or cancelled stream
// are dropped.
type streamOpenedMsg struct {
	seq    int
	stream *EventStream
}

type streamEventMsg struct {
	seq   int
	event rag.Event
}

type streamEndedMsg struct {
	seq int
	err error
}

type historyLoadedMsg struct {
	messages []domain.Message
	err      error
}

// ChatModel is the bubbletea model of the chat screen
type ChatModel struct {
	client   *Client
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	transcript     []entry
	conversationID string
	status         string

	seq       int
	streaming bool
	stream    *EventStream
	cancel    context.CancelFunc

	ready bool
}

// NewChatModel creates the chat screen. conversationID may be empty.
func NewChatModel(client *Client, conversationID string) *ChatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents (Enter to send, Esc to cancel)"
	ti.CharLimit = 1000
	ti.Focus()

	return &ChatModel{
		client:         client,
		input:          ti,
		viewport:       viewport.New(80, 20),
		spinner:        spinner.New(spinner.WithSpinner(spinner.Dot)),
		conversationID: conversationID,
		status:         "Ready.",
	}
}

func (m *ChatModel) Init() tea.Cmd {
	if m.conversationID == "" {
		return textinput.Blink
	}
	m.status = "Loading conversation..."
	client, convID := m.client, m.conversationID
	load := func() tea.Msg {
		msgs, err := client.History(context.Background(), convID)
		return historyLoadedMsg{messages: msgs, err: err}
	}
	return tea.Batch(textinput.Blink, load)
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, frame := inputBoxStyle.GetFrameSize()
		m.viewport.Width = msg.Width
		m.viewport.Height = max(3, msg.Height-frame-3)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.stop()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.streaming {
				m.stop()
				m.current().err = "cancelled"
				m.status = "Cancelled."
				m.refresh()
			}
			return m, nil
		case tea.KeyEnter:
			return m, m.submit()
		}

	case streamOpenedMsg:
		if msg.seq != m.seq || !m.streaming {
			msg.stream.Close()
			return m, nil
		}
		m.stream = msg.stream
		return m, readNext(m.seq, msg.stream)

	case streamEventMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		return m, m.handleEvent(msg.event)

	case streamEndedMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.stop()
		if msg.err != nil {
			m.current().err = msg.err.Error()
			m.status = "Request failed."
		} else {
			m.current().err = "stream ended unexpectedly"
			m.status = "Connection closed."
		}
		m.refresh()
		return m, nil

	case historyLoadedMsg:
		m.loadHistory(msg)
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *ChatModel) submit() tea.Cmd {
	query := strings.TrimSpace(m.input.Value())
	if query == "" || m.streaming {
		return nil
	}
	m.input.Reset()
	m.transcript = append(m.transcript, entry{user: true, content: query}, entry{})
	m.streaming = true
	m.status = "Thinking..."
	m.seq++
	m.refresh()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	seq, client, convID := m.seq, m.client, m.conversationID
	open := func() tea.Msg {
		stream, err := client.Query(ctx, query, convID)
		if err != nil {
			return streamEndedMsg{seq: seq, err: err}
		}
		return streamOpenedMsg{seq: seq, stream: stream}
	}
	return tea.Batch(open, m.spinner.Tick)
}

// loadHistory puts earlier messages ahead of anything typed while loading.
func (m *ChatModel) loadHistory(msg historyLoadedMsg) {
	if msg.err != nil {
		if !m.streaming {
			m.status = "Could not load history: " + msg.err.Error()
		}
		return
	}
	var earlier []entry
	for _, message := range msg.messages {
		switch message.Role {
		case domain.RoleUser:
			earlier = append(earlier, entry{user: true, content: message.Content})
		case domain.RoleAssistant:
			earlier = append(earlier, entry{content: message.Content})
		}
	}
	m.transcript = append(earlier, m.transcript...)
	if !m.streaming {
		m.status = fmt.Sprintf("Loaded %d messages.", len(earlier))
	}
	m.refresh()
}

func (m *ChatModel) handleEvent(ev rag.Event) tea.Cmd {
	cur := m.current()
	switch e := ev.(type) {
	case rag.MetaEvent:
		m.conversationID = e.ConversationID
		for _, c := range e.Chunks {
			cur.sources = append(cur.sources, describeSource(c))
		}
	case rag.TokenEvent:
		cur.content += e.Data
	case rag.DoneEvent:
		m.stop()
		m.status = "Answered."
		m.refresh()
		return nil
	case rag.ErrorEvent:
		m.stop()
		cur.err = e.Message
		m.status = "Answer failed."
		m.refresh()
		return nil
	}
	m.refresh()
	return readNext(m.seq, m.stream)
}

func (m *ChatModel) stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
	if m.streaming {
		m.seq++
	}
	m.streaming = false
}

func (m *ChatModel) current() *entry {
	if len(m.transcript) == 0 {
		m.transcript = append(m.transcript, entry{})
	}
	return &m.transcript[len(m.transcript)-1]
}

func (m *ChatModel) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *ChatModel) renderTranscript() string {
	if len(m.transcript) == 0 {
		return sourceStyle.Render("No messages yet.")
	}
	var b strings.Builder
	for _, e := range m.transcript {
		if e.user {
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(e.content)
			b.WriteString("\n\n")
			continue
		}
		b.WriteString(assistantStyle.Render("Assistant: "))
		b.WriteString(e.content)
		b.WriteString("\n")
		if len(e.sources) > 0 {
			b.WriteString(sourceStyle.Render("Sources: " + strings.Join(e.sources, ", ")))
			b.WriteString("\n")
		}
		if e.err != "" {
			b.WriteString(errorStyle.Render("Error: " + e.err))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *ChatModel) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("docchat")
	if m.conversationID != "" {
		header += sourceStyle.Render("  conversation " + m.conversationID)
	}
	status := m.status
	if m.streaming {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + m.viewport.View() + "\n" + inputBoxStyle.Render(m.input.View()) + "\n" + statusStyle.Render(status)
}

func readNext(seq int, stream *EventStream) tea.Cmd {
	return func() tea.Msg {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return streamEndedMsg{seq: seq, err: err}
		}
		return streamEventMsg{seq: seq, event: ev}
	}
}

func describeSource(c rag.ChunkRef) string {
	name, _ := c.ChunkMetadata["source"].(string)
	if name == "" {
		name = c.ID
	}
	if idx, ok := c.ChunkMetadata["chunk_index"].(float64); ok {
		return fmt.Sprintf("%s#%d", name, int(idx))
	}
	return name
}
