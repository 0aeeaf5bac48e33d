// Package ui is a terminal rendition of the chat surfaces: the pet owner's chat
// panel and the admin inbox.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/chatclient"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	ownStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	peerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	typingStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("246"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	selectedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	sidebarStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderRight(true).PaddingRight(1)
)

const sidebarWidth = 28

// Surface is the chat surface the view drives: chatclient.Widget or chatclient.Inbox.
type Surface interface {
	Send(ctx context.Context, text string) error
	Input(text string)
}

// Selector is implemented by surfaces with several conversations.
type Selector interface {
	Select(ctx context.Context, conversationID int64) error
}

// State is what the view renders. Version comes from the surface snapshot; zero
// means unversioned.
type State struct {
	Version       uint64
	Chat          chatclient.Snapshot
	Conversations []chat.Conversation
	Selected      int64
}

func WidgetState(s chatclient.Snapshot) State {
	return State{Version: s.Version, Chat: s}
}

func InboxState(s chatclient.InboxSnapshot) State {
	return State{Version: s.Version, Chat: s.Chat, Conversations: s.Conversations, Selected: s.Selected}
}

// Updates hands states from surface callbacks to the program. Only the newest
// pending state is kept.
type Updates struct {
	ch chan State

	mu   sync.Mutex
	last uint64
}

func NewUpdates() *Updates {
	return &Updates{ch: make(chan State, 1)}
}

// Push never blocks; it replaces a state the view has not picked up yet.
// Callbacks race each other, so a versioned state older than one already
// pushed is dropped.
func (u *Updates) Push(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if s.Version != 0 {
		if s.Version <= u.last {
			return
		}
		u.last = s.Version
	}
	for {
		select {
		case u.ch <- s:
			return
		default:
		}
		select {
		case <-u.ch:
		default:
		}
	}
}

func (u *Updates) wait() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-u.ch
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

type stateMsg State

type sentMsg struct{ err error }

type selectedMsg struct{ err error }

type Model struct {
	ctx     context.Context
	title   string
	viewer  chatclient.Viewer
	surface Surface
	updates *Updates

	state    State
	viewport viewport.Model
	input    textinput.Model
	status   string
	width    int

	copyText func(string) error
}

func NewModel(ctx context.Context, title string, viewer chatclient.Viewer, surface Surface, updates *Updates) Model {
	in := textinput.New()
	in.Placeholder = "Type a message…"
	in.CharLimit = 2000
	in.Focus()
	vp := viewport.New(80, 16)
	return Model{
		ctx:      ctx,
		title:    title,
		viewer:   viewer,
		surface:  surface,
		updates:  updates,
		viewport: vp,
		input:    in,
		width:    80,
		copyText: clipboard.WriteAll,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.updates.wait())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ev.Width
		m.viewport.Width = m.transcriptWidth()
		m.viewport.Height = max(ev.Height-5, 3)
		m.input.Width = max(m.transcriptWidth()-4, 10)
		m.refresh()
		return m, nil

	case stateMsg:
		m.state = State(ev)
		m.refresh()
		return m, m.updates.wait()

	case sentMsg:
		m.status = ""
		if ev.err != nil {
			m.status = "send failed: " + ev.err.Error()
		}
		return m, nil

	case selectedMsg:
		m.status = ""
		if ev.err != nil {
			m.status = "could not open conversation: " + ev.err.Error()
		}
		return m, nil

	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text == "" {
				return m, nil
			}
			return m, m.send(text)
		case "ctrl+n", "ctrl+p":
			step := 1
			if ev.String() == "ctrl+p" {
				step = -1
			}
			return m, m.selectNext(step)
		case "ctrl+y":
			msgs := m.state.Chat.Messages
			if len(msgs) == 0 {
				return m, nil
			}
			m.status = ""
			if err := m.copyText(msgs[len(msgs)-1].Content); err != nil {
				m.status = "copy failed: " + err.Error()
			}
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		prev := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if v := m.input.Value(); v != prev {
			m.surface.Input(v)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) send(text string) tea.Cmd {
	surface, ctx := m.surface, m.ctx
	return func() tea.Msg {
		return sentMsg{err: surface.Send(ctx, text)}
	}
}

func (m Model) selectNext(step int) tea.Cmd {
	sel, ok := m.surface.(Selector)
	if !ok || len(m.state.Conversations) == 0 {
		return nil
	}
	id := nextConversation(m.state.Conversations, m.state.Selected, step)
	ctx := m.ctx
	return func() tea.Msg {
		return selectedMsg{err: sel.Select(ctx, id)}
	}
}

// nextConversation steps through the list from the selected entry, wrapping
// around. With nothing selected it starts at the top.
func nextConversation(convs []chat.Conversation, selected int64, step int) int64 {
	idx := -1
	for i, c := range convs {
		if c.ConversationID == selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		return convs[0].ConversationID
	}
	n := len(convs)
	return convs[((idx+step)%n+n)%n].ConversationID
}

func (m *Model) refresh() {
	m.viewport.SetContent(RenderTranscript(m.state.Chat, m.viewer, m.transcriptWidth()))
	m.viewport.GotoBottom()
}

func (m Model) hasSidebar() bool {
	return len(m.state.Conversations) > 0
}

func (m Model) transcriptWidth() int {
	if m.hasSidebar() {
		return max(m.width-sidebarWidth-2, 20)
	}
	return m.width
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(m.header()))
	b.WriteString("\n")
	body := m.viewport.View()
	if m.hasSidebar() {
		side := sidebarStyle.Width(sidebarWidth).Height(m.viewport.Height).
			Render(RenderConversationList(m.state.Conversations, m.state.Selected, sidebarWidth))
		body = lipgloss.JoinHorizontal(lipgloss.Top, side, body)
	}
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(typingStyle.Render(TypingLabel(m.state.Chat, m.viewer)))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
	} else {
		b.WriteString(dimStyle.Render(m.help()))
	}
	return b.String()
}

func (m Model) header() string {
	if c := m.state.Chat.Conversation; c != nil && m.viewer.Role == chat.RoleAdmin {
		return fmt.Sprintf("%s · %s", m.title, c.DisplayName())
	}
	return m.title
}

func (m Model) help() string {
	if m.hasSidebar() {
		return "enter send · ctrl+y copy last · ctrl+n/ctrl+p switch conversation · esc quit"
	}
	return "enter send · ctrl+y copy last · esc quit"
}

// RenderTranscript renders the messages of one conversation for viewer, with the
// read receipt under the viewer's latest message.
func RenderTranscript(s chatclient.Snapshot, viewer chatclient.Viewer, width int) string {
	switch {
	case s.State == chatclient.StateLoading:
		return dimStyle.Render("Loading conversation…")
	case s.Conversation == nil:
		return dimStyle.Render("No conversation selected.")
	case len(s.Messages) == 0:
		return dimStyle.Render("No messages yet. Say hi!")
	}

	lastOwn := -1
	for i, msg := range s.Messages {
		if msg.IsFrom(viewer.UserID) {
			lastOwn = i
		}
	}

	wrap := lipgloss.NewStyle()
	if width > 0 {
		wrap = wrap.Width(width)
	}
	var b strings.Builder
	for i, msg := range s.Messages {
		own := msg.IsFrom(viewer.UserID)
		style := peerStyle
		if own {
			style = ownStyle
		}
		line := fmt.Sprintf("%s %s", subHeaderStyle.Render(speaker(msg, own, s.Conversation)+":"), style.Render(msg.Content))
		b.WriteString(wrap.Render(line))
		b.WriteString("\n")
		if i == lastOwn {
			receipt := chatclient.ReceiptSent
			if msg.IsRead {
				receipt = chatclient.ReceiptSeen
			}
			b.WriteString(dimStyle.Render("  " + receipt))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func speaker(msg chat.Message, own bool, conv *chat.Conversation) string {
	switch {
	case own:
		return "You"
	case msg.SenderRole == chat.RoleAdmin:
		return "Admin"
	case conv != nil:
		return conv.DisplayName()
	default:
		return "User"
	}
}

// TypingLabel is the peer typing indicator, empty when the peer is idle.
func TypingLabel(s chatclient.Snapshot, viewer chatclient.Viewer) string {
	if !s.PeerTyping {
		return ""
	}
	if viewer.Role == chat.RolePetOwner || s.Conversation == nil {
		return chatclient.AdminTypingLabel
	}
	return s.Conversation.DisplayName() + " is typing…"
}

// RenderConversationList renders the inbox list, most recent first as received.
func RenderConversationList(convs []chat.Conversation, selected int64, width int) string {
	var b strings.Builder
	b.WriteString(subHeaderStyle.Render("Conversations"))
	b.WriteString("\n")
	for _, c := range convs {
		name := truncate(c.DisplayName(), width-2)
		if c.ConversationID == selected {
			b.WriteString(selectedStyle.Render("> " + name))
		} else {
			b.WriteString("  " + name)
		}
		b.WriteString("\n")
		if c.LastMessagePreview != "" {
			b.WriteString(dimStyle.Render("  " + truncate(c.LastMessagePreview, width-2)))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
