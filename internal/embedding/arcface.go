//go:build onnx

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

const (
	arcFaceInputSize = 112
	arcFaceDim       = 512
)

func init() {
	RegisterEmbedder("arcface", func(b *Builder) (Embedder, error) {
		if b.Embedding.ArcFaceModel == "" {
			return nil, fmt.Errorf("arcface model not set: %w", ErrBackendUnavailable)
		}
		return &ArcFace{modelPath: b.Embedding.ArcFaceModel, libPath: b.Embedding.OnnxRuntimeLib}, nil
	})
}

// ArcFace extracts 512-d face embeddings with an ArcFace ONNX model (w600k_r50).
// The session is created on first use and runs are serialized because the input and
// output tensors are reused.
type ArcFace struct {
	modelPath string
	libPath   string

	once         sync.Once
	err          error
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (a *ArcFace) Name() string { return "arcface" }

func (a *ArcFace) init() error {
	a.once.Do(func() {
		if a.libPath != "" {
			ort.SetSharedLibraryPath(a.libPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				a.err = &BackendError{Backend: a.Name(), Op: "load", Err: err}
				return
			}
		}

		inputShape := ort.NewShape(1, 3, arcFaceInputSize, arcFaceInputSize)
		inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
		if err != nil {
			a.err = fmt.Errorf("create input tensor: %w", err)
			return
		}

		outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, arcFaceDim))
		if err != nil {
			inputTensor.Destroy()
			a.err = fmt.Errorf("create output tensor: %w", err)
			return
		}

		session, err := ort.NewAdvancedSession(a.modelPath,
			[]string{"input.1"},
			[]string{"683"},
			[]ort.Value{inputTensor},
			[]ort.Value{outputTensor},
			nil,
		)
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			a.err = &BackendError{Backend: a.Name(), Op: "load", Err: fmt.Errorf("create session: %w", err)}
			return
		}

		a.session = session
		a.inputTensor = inputTensor
		a.outputTensor = outputTensor
	})
	return a.err
}

func (a *ArcFace) Embed(_ context.Context, r Region) (facematch.Embedding, error) {
	if err := a.init(); err != nil {
		return nil, err
	}
	input := arcFaceInput(resizeImage(r.Crop(), arcFaceInputSize, arcFaceInputSize))

	a.mu.Lock()
	defer a.mu.Unlock()

	copy(a.inputTensor.GetData(), input)
	if err := a.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	out := make(facematch.Embedding, arcFaceDim)
	copy(out, a.outputTensor.GetData())
	return facematch.Normalize(out), nil
}

// Close releases the ONNX session.
func (a *ArcFace) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		a.session.Destroy()
	}
	if a.inputTensor != nil {
		a.inputTensor.Destroy()
	}
	if a.outputTensor != nil {
		a.outputTensor.Destroy()
	}
}

// arcFaceInput converts a 112x112 RGBA image to CHW floats scaled to [-1, 1].
func arcFaceInput(img *image.RGBA) []float32 {
	plane := arcFaceInputSize * arcFaceInputSize
	out := make([]float32, 3*plane)
	for y := range arcFaceInputSize {
		for x := range arcFaceInputSize {
			c := img.RGBAAt(x, y)
			i := y*arcFaceInputSize + x
			out[i] = (float32(c.R) - 127.5) / 127.5
			out[plane+i] = (float32(c.G) - 127.5) / 127.5
			out[2*plane+i] = (float32(c.B) - 127.5) / 127.5
		}
	}
	return out
}
