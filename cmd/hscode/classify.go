package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hscode-copilot/internal/cli"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <product description>",
		Short: "Classify a product interactively",
		Long: `Classify a product by answering the copilot's questions in the terminal.

The session converges when one code clearly leads, after which you pick the final
code. Low-confidence results can be checked with a customs helpdesk call.

Examples:
  hscode classify "Wireless Bluetooth headphones"
  hscode classify --origin China "Stainless steel kitchen knife"
  hscode classify --verify "Pineapple juice in a glass bottle"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runClassify,
	}

	cmd.Flags().String("origin", "", "country of origin recorded on the product")
	cmd.Flags().String("category", "", "product category (derived from the HS chapter when empty)")
	cmd.Flags().Int("show", 5, "number of candidates shown after each answer (0 hides them)")
	cmd.Flags().Bool("verify", false, "offer a helpdesk verification call even for confident results")

	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	origin, _ := cmd.Flags().GetString("origin")
	category, _ := cmd.Flags().GetString("category")
	show, _ := cmd.Flags().GetInt("show")
	alwaysVerify, _ := cmd.Flags().GetBool("verify")

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx := interrupts.HandleInterrupts(cmd.Context())

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	prompter.Println(cli.FormatTitle("HS code classification"))

	runner := &cli.Runner{
		Engine:         a.engine,
		Prompter:       prompter,
		Interrupts:     interrupts,
		ShowCandidates: show,
		Origin:         origin,
		Category:       category,
	}

	product, err := runner.Run(ctx, strings.Join(args, " "))
	if err != nil {
		if interrupts.WasInterrupted() {
			return nil
		}
		return userError(err)
	}

	if !product.VerificationNeeded && !alwaysVerify {
		return nil
	}

	ok, err := prompter.Confirm(ctx, cli.PhoneIcon+" Call the customs helpdesk to verify this code?")
	if err != nil || !ok {
		return ignoreInterrupt(err, interrupts)
	}

	final, err := verifyProduct(ctx, cmd, a, *product)
	if err != nil {
		return userError(ignoreInterrupt(err, interrupts))
	}
	prompter.ShowProduct(final)
	return nil
}

func ignoreInterrupt(err error, interrupts *cli.InterruptHandler) error {
	if err == nil || interrupts.WasInterrupted() || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// verifyProduct runs a verification call to completion while streaming its transcript,
// and returns the product with the status the outcome implies.
func verifyProduct(ctx context.Context, cmd *cobra.Command, a *app, product model.FinalProduct) (model.FinalProduct, error) {
	v, err := a.verifier.Start(ctx, product)
	if err != nil {
		return product, err
	}

	progress := cli.NewCallProgress(cmd.ErrOrStderr())
	poller := pollerFor(a)

	final, err := poller.Run(ctx, v.ID, progress.Update)
	progress.Finish()
	if err != nil {
		// Hang up calls abandoned by an interrupt or the poll limit.
		a.verifier.Delete(context.WithoutCancel(ctx), v.ID)
		return product, fmt.Errorf("verification %s: %w", v.ID, err)
	}

	switch final.Status {
	case model.VerificationFailed:
		cmd.PrintErrln(cli.FormatError("Verification call failed: " + final.ErrorMessage))
		cmd.PrintErrln(cli.FormatInfo("Retry with: hscode verify --retry " + final.ID))
	default:
		cmd.Println(cli.FormatSuccess(fmt.Sprintf("Helpdesk outcome: %s", final.Outcome)))
	}

	// Stored products are immutable; the verified status is derived from the call.
	return product.WithVerification(final), nil
}
