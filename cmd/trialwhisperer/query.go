package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"trialwhisperer/internal/domain"
)

func newRetrieveCmd(a *app) *cobra.Command {
	var (
		nctID string
		k     int
	)
	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Show the chunks most similar to a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cl, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer cl.Close()

			chunks, err := svc.Retrieve(cmd.Context(), args[0], nctID, k)
			if err != nil {
				return fmt.Errorf("retrieve failed: %w", err)
			}
			return printJSON(cmd, chunks)
		},
	}
	cmd.Flags().StringVar(&nctID, "nct", "", "restrict retrieval to one trial")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of chunks (default retrieval.default_k)")
	return cmd
}

func newAskCmd(a *app) *cobra.Command {
	var (
		nctID  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed protocols, with citations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cl, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer cl.Close()

			ans, err := svc.Answer(cmd.Context(), args[0], nctID)
			if err != nil && ans.Status == "" {
				return err
			}
			if err != nil {
				cmd.PrintErrln("warning:", err)
			}
			if asJSON {
				return printJSON(cmd, ans)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			if len(ans.Citations) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Sources:")
				for i, c := range ans.Citations {
					fmt.Fprintf(out, "  [%d] %s / %s: %s\n", i+1, c.NCTID, c.Section, c.TextSnippet)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&nctID, "nct", "", "restrict the answer to one trial")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the answer as JSON")
	return cmd
}

func newEligibilityCmd(a *app) *cobra.Command {
	var (
		age  int
		sex  string
		labs map[string]string
	)
	cmd := &cobra.Command{
		Use:   "eligibility [nct_id]",
		Short: "Check a patient profile against a trial's eligibility rules",
		Example: `  trialwhisperer eligibility NCT01234567 --age 16 --sex female
  trialwhisperer eligibility NCT01234567 --age 54 --lab ecog=1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patient := domain.PatientProfile{Sex: sex}
			if cmd.Flags().Changed("age") {
				patient.Age = &age
			}
			if len(labs) > 0 {
				patient.Labs = make(map[string]float64, len(labs))
				for name, raw := range labs {
					v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
					if err != nil {
						return fmt.Errorf("lab %s: %w", name, err)
					}
					patient.Labs[name] = v
				}
			}

			trials, err := a.openTrials()
			if err != nil {
				return err
			}
			defer trials.Close()
			svc := a.offlineService(trials)

			got, err := svc.EvaluateEligibility(cmd.Context(), args[0], patient)
			if err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}
	cmd.Flags().IntVar(&age, "age", 0, "patient age in years")
	cmd.Flags().StringVar(&sex, "sex", "", "patient sex (female or male)")
	cmd.Flags().StringToStringVar(&labs, "lab", nil, "lab value as name=value; repeatable")
	return cmd
}
