package matcher

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
)

const (
	blockSize    = 16
	minContrast  = 24
	borderMargin = 8
	minSpacing   = 6
	maxMinutiae  = 64
	traceSteps   = 8
)

// Neighbour offsets, clockwise from north.
var (
	ndx = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
	ndy = [8]int{-1, -1, 0, 1, 1, 1, 0, -1}
)

type grayImage struct {
	w, h int
	pix  []uint8
}

// Limits bounds the images accepted for extraction. Zero fields fall back
// to the defaults.
type Limits struct {
	MaxDimension int
	MaxPixels    int
}

const (
	defaultMaxDimension = 4096
	defaultMaxPixels    = 4_000_000
)

var errImageTooLarge = errors.New("image too large")

func (l Limits) withDefaults() Limits {
	if l.MaxDimension <= 0 {
		l.MaxDimension = defaultMaxDimension
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = defaultMaxPixels
	}
	return l
}

// check reads only the image header.
func (l Limits) check(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width > l.MaxDimension || cfg.Height > l.MaxDimension || cfg.Width*cfg.Height > l.MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d px per side or %d px total",
			errImageTooLarge, cfg.Width, cfg.Height, l.MaxDimension, l.MaxPixels)
	}
	return nil
}

func decodeImage(data []byte, lim Limits) (*grayImage, error) {
	if err := lim.withDefaults().check(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() < 2*borderMargin || b.Dy() < 2*borderMargin {
		return nil, fmt.Errorf("image too small: %dx%d", b.Dx(), b.Dy())
	}

	g := &grayImage{w: b.Dx(), h: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			g.pix[y*g.w+x] = c.Y
		}
	}
	return g, nil
}

// extract decodes an image and returns its minutiae template.
func extract(data []byte, lim Limits) (*Template, error) {
	g, err := decodeImage(data, lim)
	if err != nil {
		return nil, err
	}
	ridges, mask := binarize(g)
	thin(ridges, g.w, g.h)
	return newTemplate(g.w, g.h, detect(ridges, mask, g.w, g.h)), nil
}

// blockMask marks blocks with enough contrast to hold ridges.
type blockMask struct {
	cols int
	fg   []bool
}

func (m blockMask) at(x, y int) bool {
	return m.fg[(y/blockSize)*m.cols+x/blockSize]
}

// binarize thresholds each block at its local mean. Ridges are dark.
func binarize(g *grayImage) ([]bool, blockMask) {
	cols := (g.w + blockSize - 1) / blockSize
	rows := (g.h + blockSize - 1) / blockSize
	mask := blockMask{cols: cols, fg: make([]bool, cols*rows)}
	ridges := make([]bool, g.w*g.h)

	for by := 0; by < rows; by++ {
		for bx := 0; bx < cols; bx++ {
			x0, y0 := bx*blockSize, by*blockSize
			x1, y1 := min(x0+blockSize, g.w), min(y0+blockSize, g.h)

			lo, hi, sum := uint8(255), uint8(0), 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					v := g.pix[y*g.w+x]
					lo, hi = min(lo, v), max(hi, v)
					sum += int(v)
				}
			}
			if int(hi)-int(lo) < minContrast {
				continue
			}
			mask.fg[by*cols+bx] = true

			mean := sum / ((x1 - x0) * (y1 - y0))
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					if x == 0 || y == 0 || x == g.w-1 || y == g.h-1 {
						continue
					}
					ridges[y*g.w+x] = int(g.pix[y*g.w+x]) < mean
				}
			}
		}
	}
	return ridges, mask
}

func neighbours(img []bool, w, x, y int) [8]bool {
	var p [8]bool
	for k := 0; k < 8; k++ {
		p[k] = img[(y+ndy[k])*w+x+ndx[k]]
	}
	return p
}

// thin reduces ridges to one pixel width (Zhang-Suen).
func thin(img []bool, w, h int) {
	var del []int
	for changed := true; changed; {
		changed = false
		for step := 0; step < 2; step++ {
			del = del[:0]
			for y := 1; y < h-1; y++ {
				for x := 1; x < w-1; x++ {
					if !img[y*w+x] {
						continue
					}
					p := neighbours(img, w, x, y)
					n, a := 0, 0
					for k := 0; k < 8; k++ {
						if p[k] {
							n++
						}
						if !p[k] && p[(k+1)%8] {
							a++
						}
					}
					if n < 2 || n > 6 || a != 1 {
						continue
					}
					if step == 0 && ((p[0] && p[2] && p[4]) || (p[2] && p[4] && p[6])) {
						continue
					}
					if step == 1 && ((p[0] && p[2] && p[6]) || (p[0] && p[4] && p[6])) {
						continue
					}
					del = append(del, y*w+x)
				}
			}
			for _, i := range del {
				img[i] = false
			}
			if len(del) > 0 {
				changed = true
			}
		}
	}
}

func crossingNumber(p [8]bool) int {
	n := 0
	for k := 0; k < 8; k++ {
		if p[k] != p[(k+1)%8] {
			n++
		}
	}
	return n / 2
}

// detect finds ridge endings and bifurcations on a thinned image.
func detect(skel []bool, mask blockMask, w, h int) []Minutia {
	var out []Minutia
	for y := borderMargin; y < h-borderMargin; y++ {
		for x := borderMargin; x < w-borderMargin; x++ {
			if !skel[y*w+x] || !mask.at(x, y) {
				continue
			}

			var typ MinutiaType
			switch crossingNumber(neighbours(skel, w, x, y)) {
			case 1:
				typ = MinutiaEnding
			case 3:
				typ = MinutiaBifurcation
			default:
				continue
			}
			if tooClose(out, x, y) {
				continue
			}

			out = append(out, Minutia{X: x, Y: y, Direction: traceDirection(skel, w, h, x, y), Type: typ})
			if len(out) == maxMinutiae {
				return out
			}
		}
	}
	return out
}

func tooClose(found []Minutia, x, y int) bool {
	for _, m := range found {
		dx, dy := m.X-x, m.Y-y
		if dx*dx+dy*dy < minSpacing*minSpacing {
			return true
		}
	}
	return false
}

// traceDirection follows the skeleton away from (x0, y0) and returns the
// angle pointing from the traced ridge back to the minutia.
func traceDirection(skel []bool, w, h, x0, y0 int) int {
	visited := []int{y0*w + x0}
	seen := func(i int) bool {
		for _, v := range visited {
			if v == i {
				return true
			}
		}
		return false
	}

	x, y := x0, y0
	for step := 0; step < traceSteps; step++ {
		moved := false
		for k := 0; k < 8; k++ {
			nx, ny := x+ndx[k], y+ndy[k]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			i := ny*w + nx
			if skel[i] && !seen(i) {
				visited = append(visited, i)
				x, y, moved = nx, ny, true
				break
			}
		}
		if !moved {
			break
		}
	}
	if x == x0 && y == y0 {
		return 0
	}
	deg := math.Atan2(float64(y0-y), float64(x0-x)) * 180 / math.Pi
	return normalizeAngle(int(math.Round(deg)))
}

func normalizeAngle(d int) int {
	d %= 360
	if d < 0 {
		d += 360
	}
	return d
}
