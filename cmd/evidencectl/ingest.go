package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/extract"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ingest"
	"github.com/joseph-ayodele/evidence-pipeline/internal/repository"
)

func importURLCmd(g *globalOptions) *cobra.Command {
	var (
		noOCR     bool
		structure bool
	)
	cmd := &cobra.Command{
		Use:   "import-url <url>",
		Short: "Fetch a URL and ingest the response as evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, _, err := g.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer closePipeline(p)

			ev, err := p.Ingest.ImportFromURL(ctx, args[0], ingest.UploadOptions{
				Process: extract.ProcessOptions{DisableOCR: noOCR},
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", ev.ID, ev.Type, ev.Status, ev.QualityScore, ev.Filename)
			if structure {
				bundle, err := p.Ingest.Structure(ctx, ev.ID, ingest.StructureOptions{SourceHint: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "structured: %d tables, quality %.2f\n", len(bundle.Tables), bundle.QualityScore)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noOCR, "no-ocr", false, "never run OCR")
	cmd.Flags().BoolVar(&structure, "structure", false, "structure the content into footnoted tables")
	return cmd
}

func ingestDirCmd(g *globalOptions) *cobra.Command {
	var (
		skipHidden bool
		structure  bool
		noOCR      bool
		out        string
	)
	cmd := &cobra.Command{
		Use:   "ingest-dir <dir>",
		Short: "Ingest every supported file below a directory",
		Long: `Walks the directory and uploads each file with a supported extension. Per-file
failures are reported and do not stop the walk. With --out the resulting records are
exported to an XLSX workbook, which is useful together with --inmem.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, _, err := g.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer closePipeline(p)

			start := time.Now()
			results, stats, err := p.Files.IngestDirectory(ctx, args[0], skipHidden, ingest.UploadOptions{
				Process: extract.ProcessOptions{DisableOCR: noOCR},
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			var bytes int64
			for _, r := range results {
				if r.Err != "" {
					fmt.Fprintf(w, "FAIL\t%s\t%s\n", r.SourcePath, r.Err)
					continue
				}
				bytes += r.Size
				fmt.Fprintf(w, "OK\t%s\t%s\t%s\n", r.SourcePath, r.EvidenceID, r.Type)
				if structure && r.Status == constants.StatusCompleted {
					if _, err := p.Ingest.Structure(ctx, r.EvidenceID, ingest.StructureOptions{}); err != nil {
						fmt.Fprintf(w, "WARN\t%s\tstructure: %v\n", r.SourcePath, err)
					}
				}
			}
			fmt.Fprintf(w, "scanned=%d matched=%d succeeded=%d deduplicated=%d rejected=%d failed=%d bytes=%s elapsed=%s\n",
				stats.Scanned, stats.Matched, stats.Succeeded, stats.Deduplicated, stats.Rejected, stats.Failed,
				humanize.IBytes(uint64(bytes)), time.Since(start).Round(time.Millisecond))

			if out == "" {
				return nil
			}
			xlsx, err := p.Export.ExportEvidenceXLSX(ctx, repository.Filter{})
			if err != nil {
				return err
			}
			if err := writeFile(out, xlsx); err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %s (%s)\n", out, humanize.IBytes(uint64(len(xlsx))))
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&skipHidden, "skip-hidden", true, "skip hidden files and directories")
	f.BoolVar(&structure, "structure", false, "structure each ingested record into footnoted tables")
	f.BoolVar(&noOCR, "no-ocr", false, "never run OCR")
	f.StringVar(&out, "out", "", "write an XLSX listing of the stored evidence here")
	return cmd
}

func cleanupCmd(g *globalOptions) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge evidence soft-deleted longer than the retention period, with its blobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, cfg, err := g.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer closePipeline(p)

			if retention <= 0 {
				retention = cfg.Retention.Period
			}
			report, err := p.Ingest.Cleanup(ctx, retention)
			fmt.Fprintf(cmd.OutOrStdout(), "cutoff=%s purged=%d blobs_deleted=%d blobs_kept=%d\n",
				report.Cutoff.Format(time.RFC3339), report.RecordsPurged, report.BlobsDeleted, report.BlobsKept)
			return err
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override the configured retention period")
	return cmd
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid evidence id %q: %w: %w", s, common.ErrInvalidInput, err)
	}
	return id, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
