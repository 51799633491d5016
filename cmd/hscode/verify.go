package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hscode-copilot/internal/cli"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/verification"
)

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <product-id>",
		Short: "Verify a finalized product with a customs helpdesk call",
		Long: `Place a verification call for a stored product and follow the transcript
until the call ends. Products are only kept across runs with the sqlite or redis stores.

Examples:
  hscode verify prod_3f6c2a9e-...
  hscode verify --retry 91b2d0c4-...`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}

	cmd.Flags().Bool("retry", false, "treat the argument as a failed verification session and retry it")

	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	retry, _ := cmd.Flags().GetBool("retry")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !retry {
		product, err := a.stores.products.GetProduct(ctx, args[0])
		if err != nil {
			return err
		}
		final, err := verifyProduct(ctx, cmd, a, *product)
		if err != nil {
			return userError(err)
		}
		cmd.Println(cli.RenderProduct(final))
		return nil
	}

	v, err := a.verifier.Retry(ctx, args[0])
	if err != nil {
		return userError(err)
	}
	cmd.Println(cli.FormatInfo(fmt.Sprintf("Retrying as %s", v.ID)))

	progress := cli.NewCallProgress(cmd.ErrOrStderr())
	final, err := pollerFor(a).Run(ctx, v.ID, progress.Update)
	progress.Finish()
	if err != nil {
		a.verifier.Delete(context.WithoutCancel(ctx), v.ID)
		return err
	}

	cmd.Println(cli.RenderProduct(v.Product.WithVerification(final)))
	if final.Status == model.VerificationFailed {
		return fmt.Errorf("verification call failed: %s", final.ErrorMessage)
	}
	return nil
}

func pollerFor(a *app) verification.Poller {
	return verification.Poller{
		Service:     a.verifier,
		Interval:    cfg.Verification.PollInterval,
		MaxAttempts: cfg.Verification.MaxPolls,
	}
}
