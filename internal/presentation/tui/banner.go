// Package tui renders the interactive chat in a terminal.
package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{`  ____            _`, "#818cf8"},
	{` |  _ \ __ _ _ __| | ___ _   _`, "#a78bfa"},
	{` | |_) / _' | '__| |/ _ \ | | |`, "#c084fc"},
	{` |  __/ (_| | |  | |  __/ |_| |`, "#e879f9"},
	{` |_|   \__,_|_|  |_|\___|\__, |`, "#f472b6"},
	{`                         |___/`, "#fb7185"},
}

// PrintBanner writes the Parley banner to w, colored when the terminal
// supports it.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	fmt.Fprintln(w)
	for _, line := range bannerLines {
		fmt.Fprintln(w, termenv.String(line.text).Foreground(p.Color(line.color)))
	}
	fmt.Fprintln(w)
}
