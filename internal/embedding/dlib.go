//go:build dlib

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/kozaktomas/evidence-faces/internal/align"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

func init() {
	RegisterEmbedder("dlib-aligned", func(b *Builder) (Embedder, error) {
		m := b.dlibModel()
		return NewAligned(&dlibEmbedder{model: m}, &dlibDetector{model: m}, b.Embedding.AlignSize), nil
	})
	RegisterEmbedder("dlib", func(b *Builder) (Embedder, error) {
		return &dlibEmbedder{model: b.dlibModel()}, nil
	})
	RegisterDetector("dlib", func(b *Builder) (Detector, error) {
		return &dlibDetector{model: b.dlibModel()}, nil
	})
}

func (b *Builder) dlibModel() *dlibModel {
	return b.Shared("dlib", func() any {
		return &dlibModel{dir: b.Embedding.DlibModelsDir}
	}).(*dlibModel)
}

// dlibModel owns the go-face recognizer. The models are loaded on first use and the
// recognizer is serialized because dlib is not safe for concurrent calls.
type dlibModel struct {
	dir string

	once sync.Once
	rec  *face.Recognizer
	err  error
	mu   sync.Mutex
}

func (m *dlibModel) recognizer() (*face.Recognizer, error) {
	m.once.Do(func() {
		m.rec, m.err = face.NewRecognizer(m.dir)
		if m.err != nil {
			m.err = &BackendError{Backend: "dlib", Op: "load", Err: fmt.Errorf("loading models from %s: %w", m.dir, m.err)}
		}
	})
	return m.rec, m.err
}

func (m *dlibModel) recognize(img image.Image) ([]face.Face, error) {
	rec, err := m.recognizer()
	if err != nil {
		return nil, err
	}
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return rec.Recognize(data)
}

func (m *dlibModel) recognizeSingle(img image.Image) (*face.Face, error) {
	rec, err := m.recognizer()
	if err != nil {
		return nil, err
	}
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return rec.RecognizeSingle(data)
}

// dlibEmbedder computes the 128-d dlib descriptor of the face found in the region.
type dlibEmbedder struct {
	model *dlibModel
}

func (e *dlibEmbedder) Name() string { return "dlib" }

func (e *dlibEmbedder) Embed(_ context.Context, r Region) (facematch.Embedding, error) {
	f, err := e.model.recognizeSingle(r.CropWithMargin(0.25))
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNoEmbedding
	}
	return descriptorEmbedding(f.Descriptor), nil
}

// dlibDetector finds faces with dlib's HOG detector and returns their descriptors and
// eye landmarks.
type dlibDetector struct {
	model *dlibModel
}

func (d *dlibDetector) Name() string { return "dlib" }

func (d *dlibDetector) Detect(_ context.Context, img image.Image) ([]Detection, error) {
	faces, err := d.model.recognize(img)
	if err != nil {
		return nil, err
	}

	// Encoded copies start at the origin; map results back into img's coordinates.
	origin := img.Bounds().Min
	out := make([]Detection, 0, len(faces))
	for _, f := range faces {
		det := Detection{
			Box:       facematch.BoxFromRect(f.Rectangle.Add(origin)).Clamp(img.Bounds()),
			Embedding: descriptorEmbedding(f.Descriptor),
			Backend:   d.Name(),
		}
		if lm, ok := eyeLandmarks(f.Shapes); ok {
			lm = lm.Offset(origin)
			det.Landmarks = &lm
		}
		out = append(out, det)
	}
	return out, nil
}

func descriptorEmbedding(d face.Descriptor) facematch.Embedding {
	out := make(facematch.Embedding, len(d))
	copy(out, d[:])
	return out
}

// eyeLandmarks extracts eye contours from the 5-point or 68-point shape predictor output.
// The eye with the smaller x is reported as LeftEye.
func eyeLandmarks(shapes []image.Point) (align.Landmarks, bool) {
	var a, b []image.Point
	switch len(shapes) {
	case 5:
		a, b = shapes[0:2], shapes[2:4]
	case 68:
		a, b = shapes[36:42], shapes[42:48]
	default:
		return align.Landmarks{}, false
	}
	if meanX(a) > meanX(b) {
		a, b = b, a
	}
	return align.Landmarks{LeftEye: a, RightEye: b}, true
}

func meanX(pts []image.Point) float64 {
	var sum float64
	for _, p := range pts {
		sum += float64(p.X)
	}
	return sum / float64(len(pts))
}
