package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hscode-copilot/internal/cli"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored classification sessions, products and verification calls",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List classification sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE:  runSessionsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's questions, answers and candidates",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a classification session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsDelete,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "products",
		Short: "List finalized products",
		Args:  cobra.NoArgs,
		RunE:  runProductsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "calls",
		Short: "List verification calls",
		Args:  cobra.NoArgs,
		RunE:  runCallsList,
	})

	return cmd
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	st, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.sessions.List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tITER\tTOP CODE\tUPDATED\tDESCRIPTION")
	for _, s := range sessions {
		top := "-"
		if c := s.Candidates.Top(); c != nil {
			top = c.Code
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID, s.Status(), s.Iteration, top, s.UpdatedAt.Format("2006-01-02 15:04"), truncate(s.ProductDescription, 50))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	st, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := st.sessions.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatTitle(s.ProductDescription))
	fmt.Fprintf(out, "Status: %s (state %s, iteration %d)\n", s.Status(), s.State, s.Iteration)
	if s.SmartQuery != "" {
		fmt.Fprintf(out, "Query: %s\n", s.SmartQuery)
	}
	if s.ErrorMessage != "" {
		fmt.Fprintln(out, cli.FormatError(s.ErrorMessage))
	}
	writeHistory(out, s.QAHistory)
	if s.PendingQuestion != nil {
		fmt.Fprintf(out, "Pending: %s\n", s.PendingQuestion.Text)
	}
	if s.ConvergenceReason != "" {
		fmt.Fprintf(out, "Converged: %s %s\n", s.ConvergenceReason, s.Conclusion)
	}
	fmt.Fprintln(out, cli.RenderCandidates(s.Candidates, 10))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	st, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.sessions.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	cmd.Println(cli.FormatSuccess("Deleted " + args[0]))
	return nil
}

func runProductsList(cmd *cobra.Command, _ []string) error {
	st, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	products, err := st.products.ListProducts(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tIDENTIFICATION\tHS CODE\tCONF\tSTATUS\tDESCRIPTION")
	for _, p := range products {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			p.ID, p.Identification, p.HSCode, p.Confidence, p.Status, truncate(p.Description, 50))
	}
	return w.Flush()
}

func runCallsList(cmd *cobra.Command, _ []string) error {
	st, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	calls, err := st.verifications.ListVerifications(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CALL\tSTATUS\tOUTCOME\tLINES\tHS CODE\tRETRY OF")
	for _, v := range calls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			v.ID, v.Status, orDash(string(v.Outcome)), len(v.Transcript), v.Product.HSCode, orDash(v.RetryOf))
	}
	return w.Flush()
}

func writeHistory(out io.Writer, history []model.QAPair) {
	for i, qa := range history {
		fmt.Fprintf(out, "%d. %s\n   → %s\n", i+1, qa.Question, qa.Answer)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
