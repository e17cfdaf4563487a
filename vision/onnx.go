package vision

import (
	"context"
	"fmt"
	"os"

	onnxruntime "github.com/yalue/onnxruntime_go"
)

// Encoder runs an exported vision encoder through ONNX Runtime, turning
// preprocessed pixel values into image feature vectors. The session and its
// tensors are created on first use and reused across calls; Encode is not
// safe for concurrent use on one Encoder.
type Encoder struct {
	modelPath  string
	imageSize  int
	numLatents int
	hiddenSize int

	session      *onnxruntime.AdvancedSession
	inputTensor  *onnxruntime.Tensor[float32]
	outputTensor *onnxruntime.Tensor[float32]
}

// NewEncoder creates an Encoder for the model at modelPath. numLatents and
// hiddenSize describe the [1, numLatents, hiddenSize] output the exported
// model produces per image.
func NewEncoder(modelPath string, imageSize, numLatents, hiddenSize int) *Encoder {
	return &Encoder{
		modelPath:  modelPath,
		imageSize:  imageSize,
		numLatents: numLatents,
		hiddenSize: hiddenSize,
	}
}

func (e *Encoder) initializeSession() error {
	// Resolve the shared library path: explicit env var first, then the
	// usual install locations.
	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if libPath == "" {
		candidates := []string{
			"./libonnxruntime.so",
			"./build/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}
	if libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}

	if !onnxruntime.IsInitialized() {
		if err := onnxruntime.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	inputShape := onnxruntime.NewShape(1, 3, int64(e.imageSize), int64(e.imageSize))
	inputTensor, err := onnxruntime.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(1, int64(e.numLatents), int64(e.hiddenSize))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(
		e.modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]onnxruntime.ArbitraryTensor{inputTensor},
		[]onnxruntime.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return fmt.Errorf("failed to create session for %s: %w", e.modelPath, err)
	}

	e.inputTensor = inputTensor
	e.outputTensor = outputTensor
	e.session = session
	return nil
}

// Encode runs the encoder over a batch of preprocessed images, one session
// run per image, and returns per-image flattened feature vectors.
func (e *Encoder) Encode(ctx context.Context, pixelValues [][]float32) ([][]float32, error) {
	if e.session == nil {
		if err := e.initializeSession(); err != nil {
			return nil, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	features := make([][]float32, 0, len(pixelValues))
	for i, pixels := range pixelValues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		input := e.inputTensor.GetData()
		if len(pixels) != len(input) {
			return nil, fmt.Errorf("image %d: got %d pixel values, want %d", i, len(pixels), len(input))
		}
		copy(input, pixels)

		if err := e.session.Run(); err != nil {
			return nil, fmt.Errorf("failed to run inference for image %d: %w", i, err)
		}

		output := e.outputTensor.GetData()
		feature := make([]float32, len(output))
		copy(feature, output)
		features = append(features, feature)
	}
	return features, nil
}

// Close releases the session and its tensors.
func (e *Encoder) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return nil
}
