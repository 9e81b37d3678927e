// Package tui is the terminal chat client of a docchat server.
package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the chat screen and blocks until the user quits or ctx ends.
func Run(ctx context.Context, client *Client, conversationID string) error {
	p := tea.NewProgram(NewChatModel(client, conversationID), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
