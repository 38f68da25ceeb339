// Package align rotates a face crop so the eye line is horizontal and resizes it to the
// square input an embedding backend expects.
package align

import (
	"errors"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// DefaultSize is the side length of aligned crops when the backend does not ask for another.
const DefaultSize = 160

// ErrNoLandmarks is returned when eye landmarks are missing; callers embed the unaligned crop.
var ErrNoLandmarks = errors.New("align: eye landmarks not available")

// Landmarks holds the eye contour points of one face in the coordinates of the image
// they were detected in. LeftEye is the eye on the left side of the image.
type Landmarks struct {
	LeftEye  []image.Point
	RightEye []image.Point
}

// Offset returns the landmarks moved by d. Detectors that work on a re-encoded copy use it
// to map points back into the coordinates of the image they were given.
func (l Landmarks) Offset(d image.Point) Landmarks {
	shift := func(pts []image.Point) []image.Point {
		out := make([]image.Point, len(pts))
		for i, p := range pts {
			out[i] = p.Add(d)
		}
		return out
	}
	return Landmarks{LeftEye: shift(l.LeftEye), RightEye: shift(l.RightEye)}
}

// EyeCenters returns the centroid of each eye contour.
func (l Landmarks) EyeCenters() (left, right [2]float64, err error) {
	if len(l.LeftEye) == 0 || len(l.RightEye) == 0 {
		return left, right, ErrNoLandmarks
	}
	return centroid(l.LeftEye), centroid(l.RightEye), nil
}

// Angle returns the rotation (radians) of the line from the left to the right eye centroid.
func (l Landmarks) Angle() (float64, error) {
	le, re, err := l.EyeCenters()
	if err != nil {
		return 0, err
	}
	return math.Atan2(re[1]-le[1], re[0]-le[0]), nil
}

func centroid(pts []image.Point) [2]float64 {
	var x, y float64
	for _, p := range pts {
		x += float64(p.X)
		y += float64(p.Y)
	}
	n := float64(len(pts))
	return [2]float64{x / n, y / n}
}

// Face rotates img around its center by the eye-line angle, crops the centered square and
// resizes it to size x size. size <= 0 uses DefaultSize.
func Face(img image.Image, lm Landmarks, size int) (image.Image, error) {
	angle, err := lm.Angle()
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultSize
	}

	rotated := Rotate(img, angle)
	return CenterSquare(rotated, size), nil
}

// Rotate turns img by -angle around its center so a line at angle becomes horizontal.
// The output keeps the input bounds; uncovered corners stay transparent black.
func Rotate(img image.Image, angle float64) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if angle == 0 {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	dcx := float64(b.Dx()) / 2
	dcy := float64(b.Dy()) / 2
	cos, sin := math.Cos(-angle), math.Sin(-angle)

	// Maps source coordinates to destination coordinates: translate the source center to
	// the origin, rotate, then move to the destination center.
	m := f64.Aff3{
		cos, -sin, dcx - cos*cx + sin*cy,
		sin, cos, dcy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

// CenterSquare crops the largest centered square of img and scales it to size x size.
func CenterSquare(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	left := b.Min.X + (b.Dx()-side)/2
	top := b.Min.Y + (b.Dy()-side)/2
	src := image.Rect(left, top, left+side, top+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}
