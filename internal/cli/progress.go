package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/hscode-copilot/internal/verification"
)

// CallProgress shows a spinner for a running verification call and prints transcript
// lines as they arrive.
type CallProgress struct {
	writer  io.Writer
	bar     *progressbar.ProgressBar
	printed int
}

// NewCallProgress creates a spinner writing to writer, or stderr when nil.
func NewCallProgress(writer io.Writer) *CallProgress {
	if writer == nil {
		writer = os.Stderr
	}

	p := &CallProgress{writer: writer}
	p.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("[cyan]"+PhoneIcon+" dialing...[reset]"),
		progressbar.OptionClearOnFinish(),
	)
	return p
}

// Update is a verification.Poller callback.
func (p *CallProgress) Update(result verification.PollResult) {
	s := result.Session
	if s == nil {
		return
	}

	if len(s.Transcript) > p.printed {
		if err := p.bar.Clear(); err != nil {
			slog.Debug("Failed to clear progress bar", "error", err)
		}
		for _, entry := range s.Transcript[p.printed:] {
			if _, err := fmt.Fprintln(p.writer, RenderTranscriptEntry(entry)); err != nil {
				slog.Warn("Failed to write transcript line", "error", err)
			}
		}
		p.printed = len(s.Transcript)
	}

	p.bar.Describe(fmt.Sprintf("[cyan]%s call %s (%d lines)[reset]", PhoneIcon, s.Status, len(s.Transcript)))
	if err := p.bar.Add(1); err != nil {
		slog.Debug("Failed to update progress bar", "error", err)
	}
}

// Finish stops the spinner.
func (p *CallProgress) Finish() {
	if err := p.bar.Finish(); err != nil {
		slog.Debug("Failed to finish progress bar", "error", err)
	}
}
