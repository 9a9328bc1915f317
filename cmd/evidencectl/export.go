package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ingest"
	"github.com/joseph-ayodele/evidence-pipeline/internal/repository"
)

func exportCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export evidence to XLSX",
	}
	cmd.AddCommand(exportTablesCmd(g), exportEvidenceCmd(g))
	return cmd
}

func exportTablesCmd(g *globalOptions) *cobra.Command {
	var (
		out       string
		structure bool
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "tables <evidence-id>",
		Short: "Export the structured tables of one record, with a Footnotes sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p, _, err := g.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer closePipeline(p)

			if structure {
				if _, err := p.Ingest.Structure(ctx, id, ingest.StructureOptions{Threshold: threshold}); err != nil {
					return err
				}
			}
			xlsx, err := p.Export.ExportTablesXLSX(ctx, id)
			if err != nil {
				return err
			}
			if out == "" {
				out = id.String() + ".xlsx"
			}
			if err := writeFile(out, xlsx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, humanize.IBytes(uint64(len(xlsx))))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&out, "out", "", "output path (default <evidence-id>.xlsx)")
	f.BoolVar(&structure, "structure", false, "(re)structure the record before exporting")
	f.Float64Var(&threshold, "caveat-threshold", 0, "with --structure, add timestamped caveats to tables scoring below this")
	return cmd
}

func exportEvidenceCmd(g *globalOptions) *cobra.Command {
	var (
		out            string
		typ            string
		source         string
		status         string
		fromStr, toStr string
		includeDeleted bool
	)
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Export a listing of evidence records",
		Long:  `Dates are YYYY-MM-DD; --to is inclusive of the whole day.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := repository.Filter{
				Type:           constants.EvidenceType(typ),
				Source:         constants.EvidenceSource(source),
				Status:         constants.EvidenceStatus(status),
				IncludeDeleted: includeDeleted,
			}
			if fromStr != "" {
				t, err := time.Parse(time.DateOnly, fromStr)
				if err != nil {
					return fmt.Errorf("invalid --from date, use YYYY-MM-DD: %w: %w", common.ErrInvalidInput, err)
				}
				filter.CreatedFrom = t
			}
			if toStr != "" {
				t, err := time.Parse(time.DateOnly, toStr)
				if err != nil {
					return fmt.Errorf("invalid --to date, use YYYY-MM-DD: %w: %w", common.ErrInvalidInput, err)
				}
				filter.CreatedTo = t.AddDate(0, 0, 1)
			}

			ctx := cmd.Context()
			p, _, err := g.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer closePipeline(p)

			xlsx, err := p.Export.ExportEvidenceXLSX(ctx, filter)
			if err != nil {
				return err
			}
			if err := writeFile(out, xlsx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, humanize.IBytes(uint64(len(xlsx))))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&out, "out", "evidence.xlsx", "output path")
	f.StringVar(&typ, "type", "", "filter by type (CSV, EXCEL, PDF, IMAGE, URL, TEXT)")
	f.StringVar(&source, "source", "", "filter by source (UPLOAD, URL_FETCH)")
	f.StringVar(&status, "status", "", "filter by status (PENDING, COMPLETED, FAILED)")
	f.StringVar(&fromStr, "from", "", "created on or after this date")
	f.StringVar(&toStr, "to", "", "created on or before this date")
	f.BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted records")
	return cmd
}
