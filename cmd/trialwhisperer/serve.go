package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trialwhisperer/internal/api"
	"trialwhisperer/internal/eval"
	"trialwhisperer/internal/tui"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question-answering and eligibility HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, cl, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer cl.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := &http.Server{
				Addr: addr,
				Handler: api.NewRouter(api.NewAPIHandler(svc, a.log), api.RouterConfig{
					RequestTimeout: a.cfg.Server.Timeout(),
					Metrics:        a.metrics,
					Logger:         a.log,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.Shutdown())
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Ask questions interactively in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, cl, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer cl.Close()

			summary := "Prefix a question with NCT01234567: to ask about one trial."
			if sum, err := svc.IngestionSummary(ctx); err == nil {
				summary = fmt.Sprintf("%d trials indexed. %s", sum.StudyCount, summary)
			}
			m := tui.New(svc, summary, a.cfg.Server.Timeout())
			_, err = tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
}

func newEvalCmd(a *app) *cobra.Command {
	var (
		reportPath string
		serverURL  string
	)
	cmd := &cobra.Command{
		Use:   "eval [testset.jsonl]",
		Short: "Score answers against a JSONL test set",
		Long: `Each line holds {"query", "nct_id", "answers", "sections"}. Reports
exact-match accuracy of answers and coverage of expected citation sections.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dataset := "eval/testset.sample.jsonl"
			if len(args) == 1 {
				dataset = args[0]
			}
			examples, err := eval.LoadExamples(dataset)
			if err != nil {
				return err
			}

			var asker eval.Asker
			if serverURL != "" {
				asker = eval.HTTPAsker{BaseURL: serverURL}
			} else {
				svc, cl, err := a.newService(ctx)
				if err != nil {
					return err
				}
				defer cl.Close()
				asker = svc
			}

			records, err := eval.Run(ctx, asker, examples, a.log)
			if err != nil {
				return err
			}
			report := eval.Report{Dataset: dataset, Metrics: eval.ComputeMetrics(records), Examples: records}
			cmd.PrintErr(eval.Summary(report.Metrics))

			if reportPath == "" {
				return eval.WriteReport(cmd.OutOrStdout(), report)
			}
			f, err := os.Create(reportPath)
			if err != nil {
				return err
			}
			if err := eval.WriteReport(f, report); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			cmd.PrintErrf("Wrote JSON report to %s\n", reportPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&reportPath, "json-report", "", "write the JSON report to this file instead of stdout")
	cmd.Flags().StringVar(&serverURL, "url", "", "evaluate a running server at this base URL instead of in-process")
	return cmd
}
