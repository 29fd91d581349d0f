package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/indexer"
	"trialwhisperer/internal/normalizer"
	"trialwhisperer/internal/pipeline"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		out        string
		maxStudies int
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download studies from the ClinicalTrials.gov v2 API into the raw data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxStudies == 0 {
				maxStudies = a.cfg.CTGov.MaxStudies
			}
			studies, err := a.newCTGovClient().FetchStudies(cmd.Context(), a.cfg.CTGov.Params, a.cfg.CTGov.PageSize, maxStudies)
			if err != nil {
				return fmt.Errorf("fetch studies: %w", err)
			}
			if out == "" {
				out = filepath.Join(a.cfg.Data.Path(a.cfg.Data.RawDir), "studies.jsonl")
			}
			if err := pipeline.WriteStudies(out, studies); err != nil {
				return fmt.Errorf("write studies: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d studies into %s\n", len(studies), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output JSONL path (default <data>/raw/studies.jsonl)")
	cmd.Flags().IntVar(&maxStudies, "max", 0, "maximum number of studies (default ctgov.max_studies)")
	return cmd
}

func newIngestCmd(a *app) *cobra.Command {
	var fromAPI bool
	cmd := &cobra.Command{
		Use:   "ingest [dir ...]",
		Short: "Normalize and chunk raw trial records, saving trials and the chunk JSONL",
		Long: `Reads .xml, .json and .jsonl trial records from the given directories
(default: the configured raw directory), normalizes them, stores the trial
records and writes section-scoped chunks for indexing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var raws []normalizer.RawRecord
			if fromAPI {
				studies, err := a.newCTGovClient().FetchStudies(ctx, a.cfg.CTGov.Params, a.cfg.CTGov.PageSize, a.cfg.CTGov.MaxStudies)
				if err != nil {
					return fmt.Errorf("fetch studies: %w", err)
				}
				raws = pipeline.FromStudies(studies)
			} else {
				if len(args) == 0 {
					args = []string{a.cfg.Data.Path(a.cfg.Data.RawDir)}
				}
				for _, dir := range args {
					rs, err := pipeline.LoadDir(dir)
					if err != nil {
						return err
					}
					raws = append(raws, rs...)
				}
			}
			if len(raws) == 0 {
				return errors.New("no trial records found")
			}

			ch, err := a.newChunker()
			if err != nil {
				return err
			}
			trials, err := a.openTrials()
			if err != nil {
				return err
			}
			defer trials.Close()

			res, err := pipeline.New(ch, trials, pipeline.Config{
				Workers:    a.cfg.Ingest.Workers,
				ChunksPath: a.cfg.Data.Path(a.cfg.Data.ChunksFile),
			}, a.log, a.metrics).Run(ctx, raws)
			if err != nil {
				return err
			}
			return printJSON(cmd, res.Report)
		},
	}
	cmd.Flags().BoolVar(&fromAPI, "from-api", false, "fetch studies from ClinicalTrials.gov instead of reading files")
	return cmd
}

func newIndexCmd(a *app) *cobra.Command {
	var resume, clearFirst bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the chunk JSONL and upsert it into the vector store",
		Long: `Embeds every chunk and upserts it. Chunks that fail are written to the
failures file; --resume retries only those.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.isEphemeralStore() {
				a.log.Warn("vector_store.type is memory; the index lives only for this process")
			}
			failuresPath := a.cfg.Data.Path(a.cfg.Data.FailuresFile)

			input, err := a.indexInput(resume, failuresPath)
			if err != nil {
				return err
			}

			var cl closers
			defer func() { _ = cl.Close() }()
			emb, err := a.newEmbedder(ctx, &cl)
			if err != nil {
				return err
			}
			store, err := a.newVectorStore()
			if err != nil {
				return err
			}
			if clearFirst {
				if err := store.Clear(ctx); err != nil {
					return fmt.Errorf("clear vector store: %w", err)
				}
			}
			rep, err := a.newIndexer(emb, store).Index(ctx, input)
			if werr := indexer.WriteFailures(failuresPath, rep.Failed); werr != nil {
				a.log.Error("write failures", zap.String("path", failuresPath), zap.Error(werr))
			}
			if err != nil {
				return err
			}
			if len(rep.Failed) > 0 {
				cmd.PrintErrf("%d chunks failed; rerun with --resume to retry them\n", len(rep.Failed))
			}
			return printJSON(cmd, rep)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "only retry chunks recorded as failed by the previous run")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "remove all points from the vector store first")
	return cmd
}

// indexInput returns the chunk artifact, or with resume only the chunks the
// previous run recorded as failed.
func (a *app) indexInput(resume bool, failuresPath string) ([]domain.Chunk, error) {
	if !resume {
		return a.readChunks()
	}
	failures, err := indexer.ReadFailures(failuresPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}
	return indexer.FailedChunks(failures), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
