// File: internal/imaging/imaging.go

// Package imaging implements the local pixel heuristics the loop uses to
// pick click targets without waiting on the vision model: silhouette bounds,
// dark-row scanning, and the measure-panel-open check.
package imaging

import (
	"fmt"
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"
)

// brightnessMargin is how far below the background brightness a pixel must
// fall to count as part of the model silhouette. Light grid lines stay above
// the cutoff.
const brightnessMargin = 18

// colorDistThreshold is the fallback per-channel distance sum used when no
// pixel clears the brightness cutoff.
const colorDistThreshold = 30

// SilhouetteBox is the pixel-space extent of the dark silhouette found in a
// canvas capture, plus the image dimensions it was measured against.
type SilhouetteBox struct {
	Left, Right, Top, Bottom int
	Width, Height            int
}

// Degenerate reports whether the box spans nearly the whole image in either
// axis, which means the scan latched onto the viewport chrome rather than
// the model. The second return names the failing axis for logging.
func (b *SilhouetteBox) Degenerate() (bool, string) {
	if float64(b.Right-b.Left) > float64(b.Width)*0.95 {
		return true, "full_width"
	}
	if float64(b.Bottom-b.Top) > float64(b.Height)*0.95 {
		return true, "full_height"
	}
	return false, "ok"
}

// DarkRow is the best-scoring horizontal run of dark pixels in a capture.
// Score is the dark-pixel count times the span, so wide dense rows win.
type DarkRow struct {
	Y, Left, Right int
	Score          int
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode capture %s: %w", path, err)
	}
	return img, nil
}

func rgb8(img image.Image, x, y int) (int, int, int) {
	r, g, b, _ := img.At(x, y).RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}

// backgroundColor averages a 30x30 patch in the top-left corner, which the
// canvas chrome keeps free of geometry.
func backgroundColor(img image.Image) (int, int, int, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	patchW, patchH := min(30, w), min(30, h)
	if patchW == 0 || patchH == 0 {
		return 0, 0, 0, false
	}
	var sumR, sumG, sumB int
	for y := 0; y < patchH; y++ {
		for x := 0; x < patchW; x++ {
			r, g, b := rgb8(img, bounds.Min.X+x, bounds.Min.Y+y)
			sumR += r
			sumG += g
			sumB += b
		}
	}
	n := patchW * patchH
	return sumR / n, sumG / n, sumB / n, true
}

// Silhouette scans a canvas capture for the dark model silhouette and
// returns its bounding extent, or nil when nothing distinguishable from the
// background is found. Pixels are sampled on a stride-2 grid; the primary
// pass keys on brightness, with a color-distance fallback for low-contrast
// renders.
func Silhouette(path string) (*SilhouetteBox, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	bgR, bgG, bgB, ok := backgroundColor(img)
	if !ok {
		return nil, nil
	}
	bgBrightness := float64(bgR+bgG+bgB) / 3.0

	scan := func(match func(r, g, b int) bool) *SilhouetteBox {
		box := &SilhouetteBox{Left: w, Top: h, Width: w, Height: h}
		found := false
		for y := 0; y < h; y += 2 {
			for x := 0; x < w; x += 2 {
				r, g, b := rgb8(img, bounds.Min.X+x, bounds.Min.Y+y)
				if !match(r, g, b) {
					continue
				}
				found = true
				box.Left = min(box.Left, x)
				box.Right = max(box.Right, x)
				box.Top = min(box.Top, y)
				box.Bottom = max(box.Bottom, y)
			}
		}
		if !found {
			return nil
		}
		return box
	}

	box := scan(func(r, g, b int) bool {
		return float64(r+g+b)/3.0 < bgBrightness-brightnessMargin
	})
	if box == nil {
		box = scan(func(r, g, b int) bool {
			return abs(r-bgR)+abs(g-bgG)+abs(b-bgB) > colorDistThreshold
		})
	}
	return box, nil
}

// FindDarkRow scans rows on a stride-4 grid for the widest dense run of
// dark pixels, skipping rows whose span is below minSpan. Returns nil when
// no row qualifies.
func FindDarkRow(path string, minSpan int) (*DarkRow, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	bgR, bgG, bgB, ok := backgroundColor(img)
	if !ok {
		return nil, nil
	}
	bgBrightness := float64(bgR+bgG+bgB) / 3.0

	var best *DarkRow
	for y := 0; y < h; y += 4 {
		left, right, count := -1, -1, 0
		for x := 0; x < w; x += 2 {
			r, g, b := rgb8(img, bounds.Min.X+x, bounds.Min.Y+y)
			if float64(r+g+b)/3.0 >= bgBrightness-brightnessMargin {
				continue
			}
			count++
			if left == -1 {
				left = x
			}
			right = x
		}
		if left == -1 || right-left < minSpan {
			continue
		}
		score := count * (right - left)
		if best == nil || score > best.Score {
			best = &DarkRow{Y: y, Left: left, Right: right, Score: score}
		}
	}
	return best, nil
}

// LooksLikeMeasurePanel reports whether a capture plausibly shows the open
// measure dialog: darker overall than bare canvas, with a meaningful share
// of genuinely dark pixels. Roughly 10k pixels are sampled regardless of
// image size.
func LooksLikeMeasurePanel(path string) bool {
	img, err := loadImage(path)
	if err != nil {
		return false
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	total := w * h
	if total == 0 {
		return false
	}
	stride := max(1, total/10000)

	var brightSum float64
	dark, count := 0, 0
	for idx := 0; idx < total; idx += stride {
		x, y := idx%w, idx/w
		r, g, b := rgb8(img, bounds.Min.X+x, bounds.Min.Y+y)
		brightness := float64(r+g+b) / 3.0
		brightSum += brightness
		count++
		if brightness < 120 {
			dark++
		}
	}
	if count == 0 {
		return false
	}
	mean := brightSum / float64(count)
	darkRatio := float64(dark) / float64(count)
	return mean < 190 && darkRatio > 0.08
}

// Size returns the pixel dimensions of an image file.
func Size(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open capture %s: %w", path, err)
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, fmt.Errorf("decode capture %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
