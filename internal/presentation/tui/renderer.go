package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Renderer turns a bot message into terminal output.
type Renderer func(string) (string, error)

// Plain prints messages unchanged.
func Plain(text string) (string, error) { return text, nil }

// NewRenderer returns a markdown renderer picking a light or dark style from
// the terminal background.
func NewRenderer(width int) (Renderer, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return func(text string) (string, error) {
		out, err := r.Render(text)
		if err != nil {
			return "", err
		}
		return strings.Trim(out, "\n"), nil
	}, nil
}
