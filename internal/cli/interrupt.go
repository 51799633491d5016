package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels a classification run on SIGINT or SIGTERM and tells the
// user how to pick the session up again.
type InterruptHandler struct {
	writer      io.Writer
	cancel      context.CancelFunc
	sessionID   string
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a handler writing to writer, or stdout when nil.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{writer: writer}
}

// SetSession records the session the resume hint should mention.
func (h *InterruptHandler) SetSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = id
}

// HandleInterrupts returns a context canceled on the first interrupt signal.
// Signal delivery stops once the parent context is done.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			h.interrupt()
		case <-ctx.Done():
		}
	}()

	return ctx
}

func (h *InterruptHandler) interrupt() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interrupted {
		return
	}
	h.interrupted = true
	h.showInterruptMessage()
	if h.cancel != nil {
		h.cancel()
	}
}

// showInterruptMessage must be called with mu held.
func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Classification interrupted!")
	if h.sessionID != "" {
		msg += "\n" + FormatInfo(fmt.Sprintf("Session %s is kept. Inspect it with: hscode sessions show %s", h.sessionID, h.sessionID))
	}
	msg += "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted reports whether a signal was received.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
