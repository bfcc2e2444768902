// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/cleanllm/internal/core"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/storage"
	"github.com/jeranaias/cleanllm/internal/ui/styles"
)

// Orchestrator is the request surface the chat view drives.
type Orchestrator interface {
	Events() <-chan core.Event
	StartGeneration(conversationID, prompt string)
	StopGeneration()
	EngineState() engine.State
	ModelName() string
	GetHistory() ([]model.Summary, error)
	CreateConversation() (*model.Conversation, error)
	LoadConversation(id string) (*model.Conversation, error)
	RenameConversation(id, title string) error
	DeleteConversation(id string) ([]model.Summary, error)
}

// Options configures the chat view.
type Options struct {
	Orchestrator Orchestrator
	Theme        *styles.Theme
	// ConversationID opens a specific conversation instead of the most recent.
	ConversationID string
	// RenderMarkdown renders finished answers with glamour.
	RenderMarkdown bool
	SidebarWidth   int
}

const (
	defaultSidebarWidth = 28
	minSidebarWidth     = 16
	inputHeight         = 3
	minViewportHeight   = 3
)

type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
	focusRename
	focusConfirmDelete
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model of the chat view.
type Model struct {
	orch         Orchestrator
	theme        *styles.Theme
	keys         KeyMap
	markdown     bool
	sidebarWidth int

	width  int
	height int

	// Conversations
	history  []model.Summary
	cursor   int
	activeID string
	conv     *model.Conversation
	creating bool

	// Generation
	engineState engine.State
	streaming   bool
	streamID    string
	prompt      string
	partial     string

	focus         focusArea
	status        string
	statusLevel   statusLevel
	pendingDelete string

	viewport      viewport.Model
	input         textarea.Model
	rename        textinput.Model
	spinner       spinner.Model
	renderer      *glamour.TermRenderer
	rendererWidth int
}

// New creates the chat view.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme(styles.ThemeOptions{Name: "dark"})
	}
	width := opts.SidebarWidth
	if width <= 0 {
		width = defaultSidebarWidth
	}
	width = max(width, minSidebarWidth)

	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.ShowLineNumbers = false
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	ti := textinput.New()
	ti.Prompt = "Title: "
	ti.CharLimit = 200

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = theme.EngineLoading

	return Model{
		orch:         opts.Orchestrator,
		theme:        theme,
		keys:         DefaultKeyMap(),
		markdown:     opts.RenderMarkdown,
		sidebarWidth: width,
		activeID:     opts.ConversationID,
		engineState:  opts.Orchestrator.EngineState(),
		viewport:     viewport.New(0, 0),
		input:        ta,
		rename:       ti,
		spinner:      sp,
	}
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the event pump and the first listing.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitForEvent(m.orch.Events()),
		historyCmd(m.orch),
		m.spinner.Tick,
		textarea.Blink,
	}
	if m.activeID != "" {
		cmds = append(cmds, loadConversationCmd(m.orch, m.activeID))
	}
	return tea.Batch(cmds...)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		return m.handleEvent(msg.Event)

	case EventsClosedMsg:
		return m, tea.Quit

	case ConversationLoadedMsg:
		return m.handleLoaded(msg)

	case HistoryMsg:
		if msg.Err != nil {
			m.setStatus("cannot list conversations: "+msg.Err.Error(), statusError)
			return m, nil
		}
		cmd := m.applyHistory(msg.History)
		return m, cmd

	case StatusMsg:
		level := statusInfo
		if msg.Error {
			level = statusError
		}
		m.setStatus(msg.Text, level)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.streaming {
			m.refreshViewport()
		}
		return m, cmd
	}

	var cmds []tea.Cmd
	if m.focus == focusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (m Model) handleEvent(ev core.Event) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.orch.Events())

	switch ev.Kind {
	case core.EventToken:
		if m.streaming && ev.ConversationID == m.streamID {
			m.partial += ev.Text
			if m.streamID == m.activeID {
				m.refreshViewport()
			}
		}
		return m, next

	case core.EventError:
		m.setStatus(ev.Text, statusError)
		return m, next

	case core.EventDone:
		if !m.streaming {
			return m, next
		}
		m.streaming = false
		if ev.ConversationID == "" {
			// Soft reject: give the text back.
			m.input.SetValue(m.prompt)
			m.setStatus(m.rejectReason(), statusWarn)
		}
		m.streamID, m.prompt, m.partial = "", "", ""
		if m.activeID == "" {
			return m, next
		}
		return m, tea.Batch(next, loadConversationCmd(m.orch, m.activeID))

	case core.EventHistory:
		cmd := m.applyHistory(ev.History)
		return m, tea.Batch(next, cmd)

	case core.EventEngine:
		m.engineState = m.orch.EngineState()
		switch m.engineState {
		case engine.StateFailed:
			m.setStatus("model failed to load; prompts are disabled", statusError)
		case engine.StateReady:
			m.setStatus("model ready", statusInfo)
		}
		return m, next
	}
	return m, next
}

func (m Model) handleLoaded(msg ConversationLoadedMsg) (tea.Model, tea.Cmd) {
	m.creating = false
	if msg.Err != nil {
		m.setStatus("cannot open conversation: "+msg.Err.Error(), statusError)
		if errors.Is(msg.Err, storage.ErrConversationNotFound) {
			m.activeID = ""
			return m, historyCmd(m.orch)
		}
		return m, nil
	}
	if m.activeID != msg.Conversation.ID {
		m.viewport.GotoBottom()
	}
	m.conv = msg.Conversation
	m.activeID = msg.Conversation.ID
	m.syncCursor()
	m.refreshViewport()
	return m, nil
}

// applyHistory replaces the listing and moves off a conversation that no
// longer exists.
func (m *Model) applyHistory(list []model.Summary) tea.Cmd {
	m.history = list
	if m.activeID != "" && m.indexOf(m.activeID) >= 0 {
		m.syncCursor()
		return nil
	}
	m.cursor = min(m.cursor, max(len(list)-1, 0))
	if len(list) > 0 {
		m.activeID = list[0].ID
		return loadConversationCmd(m.orch, m.activeID)
	}
	m.activeID, m.conv = "", nil
	m.refreshViewport()
	if m.creating {
		return nil
	}
	m.creating = true
	return createConversationCmd(m.orch)
}

// =============================================================================
// KEY HANDLERS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	switch m.focus {
	case focusSidebar:
		return m.handleSidebarKey(msg)
	case focusRename:
		return m.handleRenameKey(msg)
	case focusConfirmDelete:
		return m.handleConfirmKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Stop):
		if m.streaming {
			m.orch.StopGeneration()
			m.setStatus("stopping...", statusPlain)
		}
		return m, nil

	case key.Matches(msg, m.keys.New):
		cmd := m.newConversation()
		return m, cmd

	case key.Matches(msg, m.keys.Focus):
		m.focus = focusSidebar
		m.input.Blur()
		m.syncCursor()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Send):
		return m.send()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Focus), key.Matches(msg, m.keys.Stop):
		cmd := m.focusInput()
		return m, cmd

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.history)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Open):
		if s, ok := m.selected(); ok {
			m.activeID = s.ID
			cmd := m.focusInput()
			return m, tea.Batch(loadConversationCmd(m.orch, s.ID), cmd)
		}

	case key.Matches(msg, m.keys.New):
		cmd := m.newConversation()
		return m, cmd

	case key.Matches(msg, m.keys.Rename):
		if s, ok := m.selected(); ok {
			m.focus = focusRename
			m.rename.SetValue(s.Title)
			m.rename.CursorEnd()
			cmd := m.rename.Focus()
			return m, cmd
		}

	case key.Matches(msg, m.keys.Delete):
		if s, ok := m.selected(); ok {
			m.focus = focusConfirmDelete
			m.pendingDelete = s.ID
			m.setStatus("delete \""+s.Title+"\"? (y/N)", statusWarn)
		}
	}
	return m, nil
}

func (m Model) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.focus = focusSidebar
		m.rename.Blur()
		return m, nil
	case tea.KeyEnter:
		title := strings.TrimSpace(m.rename.Value())
		m.focus = focusSidebar
		m.rename.Blur()
		s, ok := m.selected()
		if !ok || title == "" {
			m.setStatus("title cannot be empty", statusError)
			return m, nil
		}
		return m, renameCmd(m.orch, s.ID, title)
	}
	var cmd tea.Cmd
	m.rename, cmd = m.rename.Update(msg)
	return m, cmd
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.pendingDelete
	m.pendingDelete = ""
	m.focus = focusSidebar
	if key.Matches(msg, m.keys.Confirm) && id != "" {
		m.setStatus("", statusPlain)
		return m, deleteCmd(m.orch, id)
	}
	m.setStatus("delete cancelled", statusPlain)
	return m, nil
}

// send starts a generation for the input text on the active conversation.
func (m Model) send() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" || m.activeID == "" {
		return m, nil
	}
	if m.streaming {
		m.setStatus("wait for the current answer or press esc to stop it", statusWarn)
		return m, nil
	}
	m.streaming = true
	m.streamID = m.activeID
	m.prompt = prompt
	m.partial = ""
	m.input.Reset()
	m.setStatus("", statusPlain)
	m.orch.StartGeneration(m.activeID, prompt)
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) newConversation() tea.Cmd {
	if m.creating {
		return nil
	}
	m.creating = true
	return tea.Batch(createConversationCmd(m.orch), m.focusInput())
}

func (m *Model) focusInput() tea.Cmd {
	m.focus = focusInput
	return m.input.Focus()
}

// statusLevel selects the indicator drawn before the status text.
type statusLevel int

const (
	statusPlain statusLevel = iota
	statusInfo
	statusWarn
	statusError
)

func (m *Model) setStatus(text string, level statusLevel) {
	m.status, m.statusLevel = text, level
}

func (m Model) rejectReason() string {
	switch m.orch.EngineState() {
	case engine.StateReady:
		return "another answer is still being generated"
	case engine.StateFailed:
		return "model failed to load; prompts are disabled"
	default:
		return "model is still loading"
	}
}

func (m Model) indexOf(id string) int {
	for i, s := range m.history {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) syncCursor() {
	if i := m.indexOf(m.activeID); i >= 0 {
		m.cursor = i
	}
}

func (m Model) selected() (model.Summary, bool) {
	if m.cursor < 0 || m.cursor >= len(m.history) {
		return model.Summary{}, false
	}
	return m.history[m.cursor], true
}

// messages returns the active conversation's messages, including the prompt
// of a generation that has not been saved yet.
func (m Model) messages() []model.Message {
	if m.conv == nil {
		return nil
	}
	msgs := m.conv.Messages
	if !m.streaming || m.streamID != m.conv.ID {
		return msgs
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == model.RoleUser && msgs[n-1].Content == m.prompt {
		return msgs
	}
	out := make([]model.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, model.NewUserMessage(m.prompt))
}
