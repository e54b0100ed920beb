package tui_test

import (
	"bytes"
	"testing"

	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenderer(t *testing.T) {
	render, err := tui.NewRenderer(60)
	require.NoError(t, err)

	out, err := render("What would you like?\n\n1. Pizza\n2. Pasta")
	require.NoError(t, err)
	assert.Contains(t, out, "What would you like?")
	assert.Contains(t, out, "Pizza")
	assert.NotRegexp(t, `^\n|\n$`, out)
}

func TestPlain(t *testing.T) {
	out, err := tui.Plain("*as is*")
	require.NoError(t, err)
	assert.Equal(t, "*as is*", out)
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	tui.PrintBanner(&buf)
	assert.Contains(t, buf.String(), "|___/")
}
