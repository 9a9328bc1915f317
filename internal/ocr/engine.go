package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

var (
	// ErrImageTooLarge is returned before any work when the input exceeds Config.MaxFileSize.
	ErrImageTooLarge = errors.New("image exceeds ocr size limit")
	// ErrOCRTimeout is returned when recognition outlives Config.Timeout.
	ErrOCRTimeout = common.ErrOCRTimeout
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"

	TessdataDir      string
	DefaultLanguages []string // tesseract codes, default ["eng"]

	MaxFileSize  int64 // bytes, default 20MB
	MaxDimension int   // px on the longest side, default 4000
	Timeout      time.Duration

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	DPI      int // rasterization DPI for scanned PDFs, default 300
	MaxPages int // 0 = no limit
}

// Options tunes a single recognition call.
type Options struct {
	Languages       []string
	PreprocessImage bool
}

// Engine runs tesseract over in-memory images.
type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return NewEngineWithRunner(cfg, execRunner{}, logger)
}

// NewEngineWithRunner is NewEngine with a custom command runner.
func NewEngineWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if len(cfg.DefaultLanguages) == 0 {
		cfg.DefaultLanguages = []string{"eng"}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 20 << 20
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 4000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Engine{cfg: cfg, runner: runner, logger: logger}
}

// ExtractTextFromImage recognizes text in an encoded image (png, jpeg, gif, bmp, tiff, webp).
func (e *Engine) ExtractTextFromImage(ctx context.Context, data []byte, opts Options) (entity.OCRResult, error) {
	start := time.Now()
	if int64(len(data)) > e.cfg.MaxFileSize {
		return entity.OCRResult{}, fmt.Errorf("%w: %s > %s", ErrImageTooLarge,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(e.cfg.MaxFileSize)))
	}
	langs := opts.Languages
	if len(langs) == 0 {
		langs = e.cfg.DefaultLanguages
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	prepared, bounds, err := prepareImage(data, e.cfg.MaxDimension, opts.PreprocessImage)
	if err != nil {
		return entity.OCRResult{}, err
	}

	tmpDir, err := os.MkdirTemp("", "ep-ocr-*")
	if err != nil {
		return entity.OCRResult{}, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()
	in := filepath.Join(tmpDir, "page.png")
	if err := os.WriteFile(in, prepared, 0o600); err != nil {
		return entity.OCRResult{}, err
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, e.tesseractArgs(in, langs)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return entity.OCRResult{}, fmt.Errorf("%w: after %s", ErrOCRTimeout, e.cfg.Timeout)
		}
		return entity.OCRResult{}, fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}

	page := parseTSV(out)
	txt := Normalize(page.text)
	conf := 0.0
	if txt != "" {
		conf = blendConfidence(page.meanConf, heuristicConfidence(txt))
	}

	res := entity.OCRResult{
		Text:           txt,
		Confidence:     conf,
		Words:          page.words,
		Languages:      langs,
		ProcessingTime: time.Since(start),
	}
	e.logger.Debug("ocr complete",
		"width", bounds.Dx(),
		"height", bounds.Dy(),
		"words", len(page.words),
		"confidence", conf,
		"duration_ms", res.ProcessingTime.Milliseconds())
	return res, nil
}

// tesseract <in> stdout -l jpn+eng [--psm N] [--oem N] [--tessdata-dir D] tsv
func (e *Engine) tesseractArgs(in string, langs []string) []string {
	args := []string{in, "stdout", "-l", strings.Join(langs, "+")}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", fmt.Sprintf("%d", e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return append(args, "tsv")
}
