package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"gamgui/internal/gateway"
)

var attachCmd = &cobra.Command{
	Use:   "attach <id>",
	Short: "Attach an interactive terminal to a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := client().DialTerminal(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to open terminal: %w", err)
		}
		defer conn.Close()

		m := newAttachModel(args[0], conn)
		p := tea.NewProgram(m, tea.WithAltScreen())
		go pumpFrames(cmd.Context(), conn, p)
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

// frameMsg delivers one server frame into the bubbletea loop.
type frameMsg gateway.Frame

// connClosedMsg ends the program when the socket drops.
type connClosedMsg struct{ err error }

func pumpFrames(ctx context.Context, conn *websocket.Conn, p *tea.Program) {
	for {
		var f gateway.Frame
		if err := conn.ReadJSON(&f); err != nil {
			p.Send(connClosedMsg{err: err})
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.Send(frameMsg(f))
	}
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type attachModel struct {
	sessionID string
	conn      *websocket.Conn
	vp        viewport.Model
	buf       strings.Builder
	status    string
	ready     bool
}

func newAttachModel(sessionID string, conn *websocket.Conn) *attachModel {
	return &attachModel{
		sessionID: sessionID,
		conn:      conn,
		status:    "connecting",
	}
}

func (m *attachModel) Init() tea.Cmd { return nil }

func (m *attachModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-1)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - 1
		}
		m.vp.SetContent(m.buf.String())
		m.vp.GotoBottom()
		m.sendFrame(gateway.Frame{Type: "resize", Cols: uint16(msg.Width), Rows: uint16(msg.Height - 1)})
		return m, nil

	case frameMsg:
		switch msg.Type {
		case "joined":
			m.status = "attached to " + m.sessionID
		case "output":
			m.buf.WriteString(msg.Data)
			if m.ready {
				m.vp.SetContent(m.buf.String())
				m.vp.GotoBottom()
			}
		case "error":
			m.buf.WriteString(errStyle.Render("\n[" + msg.Message + "]\n"))
			if m.ready {
				m.vp.SetContent(m.buf.String())
				m.vp.GotoBottom()
			}
		case "disconnect":
			m.status = "disconnected: " + msg.Message
			return m, tea.Quit
		}
		return m, nil

	case connClosedMsg:
		m.status = "connection lost"
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlQ {
			return m, tea.Quit
		}
		m.sendFrame(gateway.Frame{Type: "input", Data: keyToInput(msg)})
		return m, nil
	}
	return m, nil
}

func (m *attachModel) sendFrame(f gateway.Frame) {
	_ = m.conn.WriteJSON(f)
}

func (m *attachModel) View() string {
	bar := statusStyle.Render(m.status + "  (ctrl+q to detach)")
	if !m.ready {
		return bar
	}
	return m.vp.View() + "\n" + bar
}

// keyToInput maps bubbletea keys onto the bytes a PTY expects.
func keyToInput(msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyEnter:
		return "\r"
	case tea.KeyBackspace:
		return "\x7f"
	case tea.KeyTab:
		return "\t"
	case tea.KeyEsc:
		return "\x1b"
	case tea.KeySpace:
		return " "
	case tea.KeyUp:
		return "\x1b[A"
	case tea.KeyDown:
		return "\x1b[B"
	case tea.KeyRight:
		return "\x1b[C"
	case tea.KeyLeft:
		return "\x1b[D"
	case tea.KeyCtrlC:
		return "\x03"
	case tea.KeyCtrlD:
		return "\x04"
	case tea.KeyCtrlL:
		return "\x0c"
	case tea.KeyCtrlU:
		return "\x15"
	case tea.KeyCtrlZ:
		return "\x1a"
	default:
		return string(msg.Runes)
	}
}
