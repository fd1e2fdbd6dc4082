// Package phash computes blockhash perceptual digests and compares them.
//
// The digest follows the blockhash algorithm (bmvbhash): the image is divided into
// bits×bits blocks, each block's brightness is summed, and every block is compared
// against the median of its horizontal quarter band. A 16-bit hash yields 256 bits
// rendered as 64 hex characters.
package phash

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/bits"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultBits is the grid size used for stacking.
const DefaultBits = 16

var (
	ErrLengthMismatch = errors.New("hash length mismatch")
	ErrInvalidHash    = errors.New("invalid hash digit")
)

// HashFile decodes the image at path and hashes it as stored.
// EXIF orientation is ignored so digests stay comparable with ones already recorded.
func HashFile(path string, gridBits int) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return Blockhash(img, gridBits), nil
}

// Blockhash returns the hex digest of img on a gridBits×gridBits grid.
// Fully transparent pixels count as white.
func Blockhash(img image.Image, gridBits int) string {
	if gridBits <= 0 {
		gridBits = DefaultBits
	}
	px := imaging.Clone(img)
	w, h := px.Bounds().Dx(), px.Bounds().Dy()

	var blocks []float64
	var perBlock float64
	if w%gridBits == 0 && h%gridBits == 0 {
		blocks, perBlock = evenBlocks(px, gridBits)
	} else {
		blocks, perBlock = weightedBlocks(px, gridBits)
	}

	translateBlocksToBits(blocks, perBlock)
	return bitsToHex(blocks)
}

func pixelValue(px *image.NRGBA, x, y int) float64 {
	i := y*px.Stride + x*4
	if px.Pix[i+3] == 0 {
		return 765
	}
	return float64(px.Pix[i]) + float64(px.Pix[i+1]) + float64(px.Pix[i+2])
}

// evenBlocks sums whole pixels when the grid divides the image exactly.
func evenBlocks(px *image.NRGBA, gridBits int) ([]float64, float64) {
	w, h := px.Bounds().Dx(), px.Bounds().Dy()
	bw, bh := w/gridBits, h/gridBits

	blocks := make([]float64, 0, gridBits*gridBits)
	for y := range gridBits {
		for x := range gridBits {
			var total float64
			for iy := range bh {
				for ix := range bw {
					total += pixelValue(px, x*bw+ix, y*bh+iy)
				}
			}
			blocks = append(blocks, total)
		}
	}
	return blocks, float64(bw * bh)
}

// weightedBlocks splits pixels that straddle a block edge between the neighbouring blocks.
func weightedBlocks(px *image.NRGBA, gridBits int) ([]float64, float64) {
	w, h := px.Bounds().Dx(), px.Bounds().Dy()
	evenX, evenY := w%gridBits == 0, h%gridBits == 0
	bw, bh := float64(w)/float64(gridBits), float64(h)/float64(gridBits)

	grid := make([][]float64, gridBits)
	for i := range grid {
		grid[i] = make([]float64, gridBits)
	}
	clamp := func(i int) int { return min(max(i, 0), gridBits-1) }

	for y := range h {
		var top, bottom int
		var wTop, wBottom float64
		if evenY {
			top = int(math.Floor(float64(y) / bh))
			bottom, wTop = top, 1
		} else {
			yMod := math.Mod(float64(y+1), bh)
			yFrac := yMod - math.Floor(yMod)
			yInt := yMod - yFrac
			wTop, wBottom = 1-yFrac, yFrac
			top = int(math.Floor(float64(y) / bh))
			if yInt > 0 || y+1 == h {
				bottom = top
			} else {
				bottom = int(math.Ceil(float64(y) / bh))
			}
		}
		top, bottom = clamp(top), clamp(bottom)

		for x := range w {
			v := pixelValue(px, x, y)

			var left, right int
			var wLeft, wRight float64
			if evenX {
				left = int(math.Floor(float64(x) / bw))
				right, wLeft = left, 1
			} else {
				xMod := math.Mod(float64(x+1), bw)
				xFrac := xMod - math.Floor(xMod)
				xInt := xMod - xFrac
				wLeft, wRight = 1-xFrac, xFrac
				left = int(math.Floor(float64(x) / bw))
				if xInt > 0 || x+1 == w {
					right = left
				} else {
					right = int(math.Ceil(float64(x) / bw))
				}
			}
			left, right = clamp(left), clamp(right)

			grid[top][left] += v * wTop * wLeft
			grid[top][right] += v * wTop * wRight
			grid[bottom][left] += v * wBottom * wLeft
			grid[bottom][right] += v * wBottom * wRight
		}
	}

	blocks := make([]float64, 0, gridBits*gridBits)
	for _, row := range grid {
		blocks = append(blocks, row...)
	}
	return blocks, bw * bh
}

func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// translateBlocksToBits replaces each block with 1 or 0 against its band median.
// A block equal to a bright median counts as set.
func translateBlocksToBits(blocks []float64, pixelsPerBlock float64) {
	half := pixelsPerBlock * 256 * 3 / 2
	band := len(blocks) / 4
	for i := range 4 {
		m := median(blocks[i*band : (i+1)*band])
		for j := i * band; j < (i+1)*band; j++ {
			v := blocks[j]
			if v > m || (math.Abs(v-m) < 1 && m > half) {
				blocks[j] = 1
			} else {
				blocks[j] = 0
			}
		}
	}
}

func bitsToHex(bitValues []float64) string {
	var b strings.Builder
	for i := 0; i+4 <= len(bitValues); i += 4 {
		nibble := 0
		for _, v := range bitValues[i : i+4] {
			nibble = nibble<<1 | int(v)
		}
		fmt.Fprintf(&b, "%x", nibble)
	}
	return b.String()
}

// HammingDistance counts the differing bits between two hex digests of equal length.
func HammingDistance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	distance := 0
	for i := 0; i < len(a); i++ {
		x, ok := hexNibble(a[i])
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHash, a[i])
		}
		y, ok := hexNibble(b[i])
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHash, b[i])
		}
		distance += bits.OnesCount8(x ^ y)
	}
	return distance, nil
}

func hexNibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
