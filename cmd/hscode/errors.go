package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/Veraticus/hscode-copilot/internal/cli"
	"github.com/Veraticus/hscode-copilot/internal/common"
)

// collaboratorHints tells the terminal user what to check when a collaborator fails.
var collaboratorHints = map[string]string{
	"candidate source":   "The HS code search service could not be reached (check search.url)",
	"question generator": "The language model request failed (check llm.api_key and llm.model)",
	"query deriver":      "The language model request failed (check llm.api_key and llm.model)",
	"verification agent": "The verification call could not be placed (check verification.caller)",
	"product store":      "The product could not be saved (check database.path)",
}

// userError wraps collaborator failures with an actionable message. Other errors
// are returned unchanged.
func userError(err error) error {
	var upstream *common.UpstreamError
	if !errors.As(err, &upstream) {
		return err
	}

	hint, ok := collaboratorHints[upstream.Collaborator]
	if !ok {
		hint = fmt.Sprintf("The %s failed", upstream.Collaborator)
	}
	return common.NewUserError(hint, err)
}

// reportError prints a failed command's error, styling messages meant for the user.
func reportError(w io.Writer, err error) {
	var userErr *common.UserError
	if errors.As(err, &userErr) {
		_, _ = fmt.Fprintln(w, cli.FormatError(userErr.UserMessage))
		if userErr.Err != nil {
			_, _ = fmt.Fprintln(w, cli.FormatInfo(userErr.Err.Error()))
		}
		return
	}
	_, _ = fmt.Fprintln(w, err)
}
