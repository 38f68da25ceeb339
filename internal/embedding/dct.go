package embedding

import (
	"context"
	"image"
	"math"

	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

const (
	dctSampleSize = 32
	dctKeep       = 8
)

// DCT is a pure Go perceptual embedder: the low-frequency block of a 2D DCT over a
// 32x32 grayscale thumbnail, L2-normalized. It does not model faces, but it is always
// available and maps pixel-identical images to identical vectors, so whole-image
// probing keeps working without any model files.
type DCT struct{}

// NewDCT returns the DCT embedder.
func NewDCT() *DCT {
	return &DCT{}
}

func (d *DCT) Name() string { return "dct" }

// Dim returns the vector length the embedder produces.
func (d *DCT) Dim() int { return dctKeep * dctKeep }

func (d *DCT) Embed(_ context.Context, r Region) (facematch.Embedding, error) {
	img := r.Crop()
	if img.Bounds().Empty() {
		return nil, ErrNoEmbedding
	}
	return computeDCTEmbedding(img), nil
}

// computeDCTEmbedding keeps the top-left 8x8 DCT coefficients, DC included, so that
// overall brightness contributes to the distance.
func computeDCTEmbedding(img image.Image) facematch.Embedding {
	gray := toGrayscale(resizeImage(img, dctSampleSize, dctSampleSize))
	dct := computeDCT(gray)

	out := make(facematch.Embedding, 0, dctKeep*dctKeep)
	for u := range dctKeep {
		for v := range dctKeep {
			out = append(out, float32(dct[u][v]))
		}
	}
	return facematch.Normalize(out)
}

// toGrayscale converts an image to a 2D array of grayscale values (0-1).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			c := img.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			// ITU-R BT.601 luma formula.
			gray[x][y] = (0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)) / 255
		}
	}

	return gray
}

// computeDCT computes the 2D DCT-II of a square grayscale image.
func computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)
	dct := make([][]float64, size)
	for i := range dct {
		dct[i] = make([]float64, size)
	}

	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := range size {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	// Only the low-frequency block is ever read.
	for u := range min(size, dctKeep) {
		for v := range min(size, dctKeep) {
			var sum float64
			for x := range size {
				for y := range size {
					sum += gray[x][y] * cosTable[u][x] * cosTable[v][y]
				}
			}
			dct[u][v] = sum
		}
	}

	return dct
}
