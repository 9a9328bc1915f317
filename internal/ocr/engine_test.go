package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t200\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t40\t12\t96.5\tRevenue\n" +
	"5\t1\t1\t1\t1\t2\t55\t10\t30\t12\t91.0\t2024\n" +
	"5\t1\t1\t1\t2\t1\t10\t30\t60\t12\t88.0\t$1,200.00\n" +
	"5\t1\t2\t1\t1\t1\t10\t60\t60\t12\t-1\tnotes\n"

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(ctx context.Context, name string, args []string) ([]byte, []byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	return f.run(ctx, name, args)
}

func tsvRunner(out string) *fakeRunner {
	return &fakeRunner{run: func(context.Context, string, []string) ([]byte, []byte, error) {
		return []byte(out), nil, nil
	}}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / max(1, w-1))
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractTextFromImage(t *testing.T) {
	r := tsvRunner(sampleTSV)
	e := NewEngineWithRunner(Config{DefaultLanguages: []string{"jpn", "eng"}, PSM: 6}, r, nil)

	res, err := e.ExtractTextFromImage(context.Background(), testPNG(t, 64, 32), Options{PreprocessImage: true})
	require.NoError(t, err)

	assert.Equal(t, "Revenue 2024\n$1,200.00\n\nnotes", res.Text)
	require.Len(t, res.Words, 4)
	assert.Equal(t, entity.OCRWord{Text: "Revenue", Confidence: 0.965, Left: 10, Top: 10, Width: 40, Height: 12}, res.Words[0])
	assert.Zero(t, res.Words[3].Confidence, "-1 confidence is not a score")
	assert.Equal(t, []string{"jpn", "eng"}, res.Languages)

	// mean word conf (96.5+91+88)/3/100 blended 70/30 with the text heuristic
	mean := (96.5 + 91.0 + 88.0) / 3 / 100
	assert.InDelta(t, 0.7*mean+0.3*heuristicConfidence(res.Text), res.Confidence, 1e-9)

	require.Len(t, r.calls, 1)
	args := strings.Join(r.calls[0], " ")
	assert.Contains(t, args, "-l jpn+eng")
	assert.Contains(t, args, "--psm 6")
	assert.True(t, strings.HasSuffix(args, " tsv"))
}

func TestExtractTextFromImage_LanguageOverride(t *testing.T) {
	r := tsvRunner(sampleTSV)
	e := NewEngineWithRunner(Config{}, r, nil)
	_, err := e.ExtractTextFromImage(context.Background(), testPNG(t, 8, 8), Options{Languages: []string{"kor"}})
	require.NoError(t, err)
	assert.Contains(t, strings.Join(r.calls[0], " "), "-l kor")
}

func TestExtractTextFromImage_Errors(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		e := NewEngineWithRunner(Config{MaxFileSize: 10}, tsvRunner(sampleTSV), nil)
		_, err := e.ExtractTextFromImage(context.Background(), testPNG(t, 16, 16), Options{})
		assert.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("timeout", func(t *testing.T) {
		blocking := &fakeRunner{run: func(ctx context.Context, _ string, _ []string) ([]byte, []byte, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}}
		e := NewEngineWithRunner(Config{Timeout: 20 * time.Millisecond}, blocking, nil)
		_, err := e.ExtractTextFromImage(context.Background(), testPNG(t, 8, 8), Options{})
		assert.ErrorIs(t, err, ErrOCRTimeout)
	})

	t.Run("recognition failure is not a timeout", func(t *testing.T) {
		failing := &fakeRunner{run: func(context.Context, string, []string) ([]byte, []byte, error) {
			return nil, []byte("Error opening data file"), errors.New("exit status 1")
		}}
		e := NewEngineWithRunner(Config{}, failing, nil)
		_, err := e.ExtractTextFromImage(context.Background(), testPNG(t, 8, 8), Options{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrOCRTimeout)
		assert.Contains(t, err.Error(), "Error opening data file")
	})

	t.Run("not an image", func(t *testing.T) {
		e := NewEngineWithRunner(Config{}, tsvRunner(sampleTSV), nil)
		_, err := e.ExtractTextFromImage(context.Background(), []byte("plain text"), Options{})
		assert.ErrorContains(t, err, "decode image")
	})
}

func TestBatchExtract_PreservesOrder(t *testing.T) {
	var inFlight, peak atomic.Int32
	r := &fakeRunner{run: func(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return []byte(sampleTSV), nil, nil
	}}
	e := NewEngineWithRunner(Config{}, r, nil)

	images := [][]byte{testPNG(t, 8, 8), []byte("broken"), testPNG(t, 9, 9), testPNG(t, 10, 10), testPNG(t, 11, 11)}
	results := e.BatchExtract(context.Background(), images, Options{}, 2)

	require.Len(t, results, len(images))
	for i, br := range results {
		assert.Equal(t, i, br.Index)
	}
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[0].Err)
	assert.NotEmpty(t, results[4].Result.Text)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRasterizePDF(t *testing.T) {
	r := &fakeRunner{run: func(_ context.Context, name string, args []string) ([]byte, []byte, error) {
		if name != "pdftoppm" {
			return []byte(sampleTSV), nil, nil
		}
		prefix := args[len(args)-1]
		for i := 1; i <= 3; i++ {
			if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), testPNG(t, 4+i, 4), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}}
	e := NewEngineWithRunner(Config{MaxPages: 2, DPI: 150}, r, nil)

	pages, err := e.RasterizePDF(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Contains(t, strings.Join(r.calls[0], " "), "-r 150 -png -l 2")

	results, err := e.ExtractTextFromPDF(context.Background(), []byte("%PDF-1.4"), Options{}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Page)
	assert.Equal(t, 2, results[1].Page)
}

func TestEvaluateQuality(t *testing.T) {
	tests := []struct {
		name      string
		res       entity.OCRResult
		level     QualityLevel
		issues    []string
		recommend string
	}{
		{
			name:  "high",
			res:   entity.OCRResult{Text: "Market size reached 1,200 million yen in 2024.", Confidence: 0.9},
			level: QualityHigh,
		},
		{
			name:      "medium and short",
			res:       entity.OCRResult{Text: "Total 300", Confidence: 0.7},
			level:     QualityMedium,
			issues:    []string{"very short text"},
			recommend: recResolution,
		},
		{
			name:      "low and garbled",
			res:       entity.OCRResult{Text: "~~|| ^^ ## @@ ~~ || ^^ ab", Confidence: 0.3},
			level:     QualityLow,
			issues:    []string{"low confidence", "garbled characters"},
			recommend: recOrientation,
		},
		{
			name:      "empty",
			res:       entity.OCRResult{},
			level:     QualityLow,
			issues:    []string{"low confidence", "no text recognized"},
			recommend: recOrientation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := EvaluateQuality(tt.res)
			assert.Equal(t, tt.level, rep.Level)
			for _, is := range tt.issues {
				assert.Contains(t, rep.Issues, is)
			}
			if tt.recommend != "" {
				assert.Contains(t, rep.Recommendations, tt.recommend)
			}
			if len(tt.issues) == 0 {
				assert.Empty(t, rep.Issues)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	in := "市 場 規 模\r\n\r\n\r\n\r\nTotal\t\t  100   \n-----\n0RDER"
	assert.Equal(t, "市場規模\n\nTotal 100\n\nORDER", Normalize(in))
}

func TestPrepareImage_Downscales(t *testing.T) {
	out, bounds, err := prepareImage(testPNG(t, 400, 100), 200, true)
	require.NoError(t, err)
	assert.Equal(t, 200, bounds.Dx())
	assert.Equal(t, 50, bounds.Dy())

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	_, isGray := img.(*image.Gray)
	assert.True(t, isGray)
}
