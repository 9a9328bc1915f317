package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/extract"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ocr"
	"github.com/joseph-ayodele/evidence-pipeline/internal/security"
	"github.com/joseph-ayodele/evidence-pipeline/internal/server"
)

// readInput reads a local file and works out its MIME type: the flag wins, then the
// extension, then content sniffing.
func readInput(path, mimeFlag string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if mimeFlag != "" {
		return data, mimeFlag, nil
	}
	mime := constants.MIMEForExt(filepath.Ext(path))
	if constants.IsGenericMIME(mime) {
		mime = mimetype.Detect(data).String()
	}
	return data, mime, nil
}

func scanCmd(g *globalOptions) *cobra.Command {
	var mimeFlag string
	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Run the security scanner on a file",
		Long:  `Checks size, file signature, malware patterns and dangerous extensions. Exits non-zero when the file is unsafe.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := g.load()
			data, mime, err := readInput(args[0], mimeFlag)
			if err != nil {
				return err
			}
			scanner := security.NewScanner(security.Config{MaxFileSize: cfg.Security.MaxFileSize}, logger)
			res, err := scanner.ScanFile(cmd.Context(), data, filepath.Base(args[0]), mime, server.ScanOptions(cfg.Security))
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.IsSafe {
				return &common.SecurityRejection{Filename: filepath.Base(args[0]), Violations: res.Violations()}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeFlag, "mime", "", "declared MIME type (default: from extension, then sniffed)")
	return cmd
}

func extractCmd(g *globalOptions) *cobra.Command {
	var (
		mimeFlag  string
		noOCR     bool
		languages []string
		full      bool
	)
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract text, tables and entities from a file without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := g.load()
			data, mime, err := readInput(args[0], mimeFlag)
			if err != nil {
				return err
			}
			engine := ocr.NewEngine(ocr.Config{
				Tesseract:        cfg.OCR.Tesseract,
				Pdftoppm:         cfg.OCR.Pdftoppm,
				TessdataDir:      cfg.OCR.TessdataDir,
				DefaultLanguages: cfg.OCR.Languages,
				MaxFileSize:      cfg.OCR.MaxFileSize,
				Timeout:          cfg.OCR.Timeout,
			}, logger)
			svc := extract.NewService(extract.Config{
				MinPDFTextChars: cfg.Extract.MinPDFTextChars,
				MaxEntities:     cfg.Extract.MaxEntities,
			}, engine, logger)

			ev, err := svc.ProcessFile(cmd.Context(), data, filepath.Base(args[0]), mime, constants.SourceUpload,
				extract.ProcessOptions{DisableOCR: noOCR, OCRLanguages: languages})
			if err != nil {
				return err
			}
			if full {
				return printJSON(cmd.OutOrStdout(), ev)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "type:      %s\n", ev.Type)
			fmt.Fprintf(w, "size:      %s\n", humanize.IBytes(uint64(ev.Size)))
			fmt.Fprintf(w, "quality:   %.2f\n", ev.QualityScore)
			fmt.Fprintf(w, "language:  %s\n", ev.Metadata.Language)
			fmt.Fprintf(w, "method:    %s\n", ev.Metadata.ExtractionMethod)
			fmt.Fprintf(w, "tables:    %d\n", len(ev.Content.Tables))
			fmt.Fprintf(w, "entities:  %d\n", len(ev.Content.Structured.Entities))
			fmt.Fprintf(w, "checksum:  %s\n", ev.Metadata.Checksum)
			if preview := strings.TrimSpace(ev.Content.Text); preview != "" {
				if r := []rune(preview); len(r) > 200 {
					preview = string(r[:200]) + "…"
				}
				fmt.Fprintf(w, "text:\n%s\n", preview)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&mimeFlag, "mime", "", "declared MIME type (default: from extension, then sniffed)")
	f.BoolVar(&noOCR, "no-ocr", false, "never run OCR")
	f.StringSliceVar(&languages, "lang", nil, "OCR languages (tesseract codes)")
	f.BoolVar(&full, "json", false, "print the full evidence record as JSON")
	return cmd
}
