package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"marketing-rag/internal/knowledge"
)

// AssistantPort is the TUI-facing subset of the knowledge coordinator.
type AssistantPort interface {
	Answer(ctx context.Context, question string, filters map[string]any) knowledge.AnswerResult
}

// Model is the Bubble Tea model for the interactive assistant session.
type Model struct {
	assistant AssistantPort
	input     textinput.Model
	viewport  viewport.Model
	overview  string
	status    string
	ready     bool
}

// New creates the assistant model. overview is shown under the header as a
// one-line description of the loaded knowledge base.
func New(assistant AssistantPort, overview string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{assistant: assistant, input: ti, viewport: vp, overview: overview, status: "Ready. Ask away."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around answer and question boxes
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := questionBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + overview
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-ah)
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" {
				m.status = "Thinking..."
				res := m.assistant.Answer(context.Background(), q, nil)
				m.viewport.SetContent(renderAnswer(res))
				m.viewport.GotoTop()
				if res.ContextUsed == 0 {
					m.status = "Answered without knowledge-base context."
				} else {
					m.status = fmt.Sprintf("Answered from %d chunks, avg relevance %.2f",
						res.ContextUsed, res.AvgRelevance)
				}
				m.input.Reset()
				return m, nil
			}
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the assistant layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Marketing Assistant")
	overview := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.overview)
	input := questionBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	answer := answerBoxStyle.Render(m.viewport.View())
	return header + "\n" + overview + "\n" + answer + "\n" + input + "\n" + status
}

func renderAnswer(res knowledge.AnswerResult) string {
	var b strings.Builder
	b.WriteString(questionStyle.Render("Q: " + res.Question))
	b.WriteString("\n\n")
	b.WriteString(res.Answer)
	if len(res.Sources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(sourceStyle.Render("Sources: " + strings.Join(res.Sources, ", ")))
	}
	return b.String()
}

var (
	answerBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
