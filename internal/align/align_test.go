package align

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func blockImage(w, h int, block image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.RGBA{A: 255}
			if image.Pt(x, y).In(block) {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestLandmarks_Angle(t *testing.T) {
	tests := []struct {
		name string
		lm   Landmarks
		want float64
	}{
		{
			name: "horizontal",
			lm:   Landmarks{LeftEye: []image.Point{{10, 20}, {12, 20}}, RightEye: []image.Point{{40, 20}, {42, 20}}},
			want: 0,
		},
		{
			name: "45 degrees",
			lm:   Landmarks{LeftEye: []image.Point{{10, 10}}, RightEye: []image.Point{{30, 30}}},
			want: math.Pi / 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lm.Angle()
			if err != nil {
				t.Fatalf("Angle() error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Angle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFace_MissingLandmarks(t *testing.T) {
	img := blockImage(20, 20, image.Rect(0, 0, 0, 0))
	_, err := Face(img, Landmarks{LeftEye: []image.Point{{1, 1}}}, 0)
	if !errors.Is(err, ErrNoLandmarks) {
		t.Errorf("expected ErrNoLandmarks, got %v", err)
	}
}

func TestFace_OutputSize(t *testing.T) {
	img := blockImage(120, 80, image.Rect(50, 30, 70, 50))
	lm := Landmarks{LeftEye: []image.Point{{40, 30}}, RightEye: []image.Point{{80, 34}}}

	out, err := Face(img, lm, 0)
	if err != nil {
		t.Fatalf("Face() error: %v", err)
	}
	if out.Bounds().Dx() != DefaultSize || out.Bounds().Dy() != DefaultSize {
		t.Errorf("expected %dx%d output, got %v", DefaultSize, DefaultSize, out.Bounds())
	}

	out, err = Face(img, lm, 112)
	if err != nil {
		t.Fatalf("Face() error: %v", err)
	}
	if out.Bounds().Dx() != 112 {
		t.Errorf("expected 112 px output, got %v", out.Bounds())
	}
}

func TestRotate_MovesPointAroundCenter(t *testing.T) {
	// Bright block 20 px right of the center of a 100x100 image.
	img := blockImage(100, 100, image.Rect(67, 47, 74, 54))

	// An eye line pointing straight down (+90 degrees) is turned back by -90 degrees,
	// which carries the block from the right of the center to above it.
	out := Rotate(img, math.Pi/2)

	r, _, _, _ := out.At(50, 30).RGBA()
	if r < 0x8000 {
		t.Errorf("expected bright pixel above the center after rotation, got %#x", r)
	}
	r, _, _, _ = out.At(70, 50).RGBA()
	if r > 0x1000 {
		t.Errorf("expected original block position to be dark after rotation, got %#x", r)
	}
}

func TestRotate_ZeroAngleCopies(t *testing.T) {
	img := blockImage(10, 10, image.Rect(2, 2, 4, 4))
	out := Rotate(img, 0)
	if out.RGBAAt(3, 3) != img.RGBAAt(3, 3) || out.RGBAAt(8, 8) != img.RGBAAt(8, 8) {
		t.Error("zero rotation must copy pixels unchanged")
	}
}

func TestCenterSquare(t *testing.T) {
	// Left and right thirds are white; the centered square is the dark middle.
	img := blockImage(300, 100, image.Rect(0, 0, 100, 100))
	for y := range 100 {
		for x := 200; x < 300; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	out := CenterSquare(img, 50)
	if out.Bounds() != image.Rect(0, 0, 50, 50) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if c := out.RGBAAt(25, 25); c.R != 0 {
		t.Errorf("expected dark center, got %v", c)
	}
}

func TestLandmarks_Offset(t *testing.T) {
	lm := Landmarks{LeftEye: []image.Point{{10, 10}}, RightEye: []image.Point{{20, 12}}}
	got := lm.Offset(image.Pt(5, -5))
	if got.LeftEye[0] != image.Pt(15, 5) || got.RightEye[0] != image.Pt(25, 7) {
		t.Errorf("unexpected offset %+v", got)
	}
	if lm.LeftEye[0] != image.Pt(10, 10) {
		t.Error("Offset modified the receiver")
	}
}
