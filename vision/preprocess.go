// Package vision implements the image collaborator: decoding, CLIP-style
// preprocessing into normalized channel-first tensors, and an optional ONNX
// encoder producing image features.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"

	// Register stdlib and extended decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Config holds the preprocessing parameters. Mean and Std are per-channel
// in RGB order.
type Config struct {
	ImageSize int
	Mean      [3]float32
	Std       [3]float32
}

// DefaultConfig returns the CLIP normalization constants at 224x224.
func DefaultConfig() Config {
	return Config{
		ImageSize: 224,
		Mean:      [3]float32{0.48145466, 0.4578275, 0.40821073},
		Std:       [3]float32{0.26862954, 0.26130258, 0.27577711},
	}
}

// Processor prepares images for the vision encoder. It implements
// processor.ImageProcessor.
type Processor struct {
	cfg     Config
	encoder *Encoder
}

// NewProcessor creates a Processor. encoder may be nil, in which case only
// pixel values are produced.
func NewProcessor(cfg Config, encoder *Encoder) *Processor {
	if cfg.ImageSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Processor{cfg: cfg, encoder: encoder}
}

// ProcessImages resizes and normalizes the batch and, when an encoder is
// configured, also runs it to produce image features. The returned keys are
// opaque to the text-side processor.
func (p *Processor) ProcessImages(ctx context.Context, images []image.Image) (map[string]any, error) {
	pixelValues := make([][]float32, len(images))
	for i, img := range images {
		if img == nil {
			return nil, fmt.Errorf("image %d is nil", i)
		}
		pixelValues[i] = p.preprocess(img)
	}

	out := map[string]any{
		"pixel_values": pixelValues,
		"pixel_shape":  []int{len(images), 3, p.cfg.ImageSize, p.cfg.ImageSize},
	}

	if p.encoder != nil {
		features, err := p.encoder.Encode(ctx, pixelValues)
		if err != nil {
			return nil, fmt.Errorf("failed to encode images: %w", err)
		}
		out["image_embeds"] = features
	}
	return out, nil
}

// preprocess fills the image into the square model resolution and writes
// channel-first normalized float planes.
func (p *Processor) preprocess(img image.Image) []float32 {
	size := p.cfg.ImageSize
	resized := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*size + x
			out[idx] = (float32(r)/65535 - p.cfg.Mean[0]) / p.cfg.Std[0]
			out[plane+idx] = (float32(g)/65535 - p.cfg.Mean[1]) / p.cfg.Std[1]
			out[2*plane+idx] = (float32(b)/65535 - p.cfg.Mean[2]) / p.cfg.Std[2]
		}
	}
	return out
}

// DecodeImage decodes raw image bytes, trying the registered decoders first
// and falling back to webp.
func DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("unsupported or corrupt image data")
}
