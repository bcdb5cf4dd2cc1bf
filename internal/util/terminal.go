package util

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// IsTerminal checks if the given file descriptor is a terminal
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// GetTerminalWidth returns the width of the terminal, or 80 if not a terminal
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return width
}

// NewProgressBar returns a progress bar on stderr, or a silent one when
// stderr is not a terminal or quiet output was requested.
func NewProgressBar(total int, description string, quiet bool) *progressbar.ProgressBar {
	if quiet || !IsTerminal(os.Stderr.Fd()) {
		return progressbar.NewOptions(total, progressbar.OptionSetWriter(io.Discard))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(GetTerminalWidth()/3),
		progressbar.OptionClearOnFinish(),
	)
}
