package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"sort"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// prepareImage decodes data, downsizes it to fit maxDim, optionally cleans it up for
// recognition, and re-encodes it as PNG.
func prepareImage(data []byte, maxDim int, enhance bool) ([]byte, image.Rectangle, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("decode image: %w", err)
	}

	img := downscale(src, maxDim)
	if enhance {
		gray := toGray(img)
		stretchContrast(gray, 0.01, 0.99)
		gray = sharpen(gray)
		gray = medianDenoise(gray)
		img = gray
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), img.Bounds(), nil
}

// downscale returns src unchanged when it already fits in maxDim x maxDim.
func downscale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return src
	}
	scale := float64(maxDim) / float64(max(w, h))
	nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// stretchContrast maps the [lo, hi] percentile range of intensities onto [0, 255].
func stretchContrast(g *image.Gray, loPct, hiPct float64) {
	if len(g.Pix) == 0 {
		return
	}
	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}
	total := len(g.Pix)
	lo := percentile(hist, total, loPct)
	hi := percentile(hist, total, hiPct)
	if hi <= lo {
		return
	}
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		switch {
		case v <= lo:
			lut[v] = 0
		case v >= hi:
			lut[v] = 255
		default:
			lut[v] = uint8((v - lo) * 255 / (hi - lo))
		}
	}
	for i, v := range g.Pix {
		g.Pix[i] = lut[v]
	}
}

func percentile(hist [256]int, total int, p float64) int {
	target := int(p * float64(total))
	acc := 0
	for v, c := range hist {
		acc += c
		if acc > target {
			return v
		}
	}
	return 255
}

var sharpenKernel = [9]int{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

func sharpen(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	dst := image.NewGray(g.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, k := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sum += sharpenKernel[k] * int(grayAt(g, x+dx, y+dy, w, h))
					k++
				}
			}
			dst.Pix[y*dst.Stride+x] = clamp8(sum)
		}
	}
	return dst
}

func medianDenoise(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	dst := image.NewGray(g.Rect)
	var window [9]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[k] = int(grayAt(g, x+dx, y+dy, w, h))
					k++
				}
			}
			s := window[:]
			sort.Ints(s)
			dst.Pix[y*dst.Stride+x] = uint8(s[4])
		}
	}
	return dst
}

// grayAt reads a pixel with edge clamping. Coordinates are relative to the origin.
func grayAt(g *image.Gray, x, y, w, h int) uint8 {
	x = min(max(x, 0), w-1)
	y = min(max(y, 0), h-1)
	return g.Pix[y*g.Stride+x]
}

func clamp8(v int) uint8 {
	return uint8(min(max(v, 0), 255))
}
