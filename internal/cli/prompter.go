package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

// ErrInputTerminated is returned when the input stream ends mid-prompt.
var ErrInputTerminated = errors.New("input terminated")

// Prompter asks the user classification questions on a terminal.
type Prompter struct {
	reader *NonBlockingReader
	writer io.Writer
}

// NewPrompter creates a prompter; nil arguments fall back to stdin and stdout.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader: NewNonBlockingReader(reader),
		writer: writer,
	}
}

// Ask shows a question and returns a non-empty answer. For multiple-choice questions the
// user may type either an option number or free text.
func (p *Prompter) Ask(ctx context.Context, q *model.Question, iteration int) (string, error) {
	if q == nil {
		return "", fmt.Errorf("no question to ask")
	}

	var b strings.Builder
	b.WriteString(q.Text)
	if q.Type == model.QuestionMultipleChoice {
		for i, opt := range q.Options {
			fmt.Fprintf(&b, "\n  [%d] %s", i+1, opt)
		}
	}
	p.println(RenderBox(fmt.Sprintf("%s Question %d", QuestionIcon, iteration+1), b.String()))

	for {
		input, err := p.readLine(ctx, "Answer")
		if err != nil {
			return "", err
		}
		if input == "" {
			p.println(FormatError("An answer is required."))
			continue
		}
		if q.Type == model.QuestionMultipleChoice {
			if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(q.Options) {
				return q.Options[n-1], nil
			}
		}
		return input, nil
	}
}

// SelectCode lets the user accept the top candidate or pick one of the first limit
// candidates by number. It returns the chosen code.
func (p *Prompter) SelectCode(ctx context.Context, candidates model.Candidates, limit int) (string, error) {
	top := candidates.Top()
	if top == nil {
		return "", fmt.Errorf("no candidates to select from")
	}

	shown := candidates.TopN(limit)
	p.println(RenderBox("Final candidates", RenderCandidates(shown, limit)))

	for {
		input, err := p.readLine(ctx, fmt.Sprintf("Select code [1-%d, Enter for %s]", len(shown), top.Code))
		if err != nil {
			return "", err
		}
		if input == "" {
			return top.Code, nil
		}
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(shown) {
			return shown[n-1].Code, nil
		}
		if c, ok := shown.Find(input); ok {
			return c.Code, nil
		}
		p.println(FormatError("Invalid choice. Please try again."))
	}
}

// Confirm asks a yes/no question; Enter means no.
func (p *Prompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	for {
		input, err := p.readLine(ctx, prompt+" [y/N]")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(input) {
		case "y", "yes":
			return true, nil
		case "", "n", "no":
			return false, nil
		}
		p.println(FormatError("Please answer y or n."))
	}
}

// ShowCandidates prints the current ranking.
func (p *Prompter) ShowCandidates(candidates model.Candidates, limit int) {
	p.println(SubtleStyle.Render("Current candidates:"))
	p.println(RenderCandidates(candidates, limit))
	p.println("")
}

// ShowProduct prints a finalized product.
func (p *Prompter) ShowProduct(product model.FinalProduct) {
	p.println(RenderBox(SuccessIcon+" Classification complete", RenderProduct(product)))
}

// Println writes a line, logging write failures.
func (p *Prompter) Println(line string) {
	p.println(line)
}

func (p *Prompter) readLine(ctx context.Context, prompt string) (string, error) {
	if _, err := fmt.Fprint(p.writer, FormatPrompt(prompt)); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}

	input, err := p.reader.ReadLine(ctx)
	switch {
	case errors.Is(err, io.EOF):
		return "", ErrInputTerminated
	case errors.Is(err, ErrInputCancelled):
		return "", ctx.Err()
	case err != nil:
		return "", err
	}
	return input, nil
}

func (p *Prompter) println(line string) {
	if _, err := fmt.Fprintln(p.writer, line); err != nil {
		slog.Warn("Failed to write to terminal", "error", err)
	}
}
