package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestProcessImages(t *testing.T) {
	p := NewProcessor(DefaultConfig(), nil)

	out, err := p.ProcessImages(context.Background(), []image.Image{
		solidImage(50, 30, color.White),
		solidImage(10, 80, color.Black),
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	pixelValues, ok := out["pixel_values"].([][]float32)
	if !ok {
		t.Fatalf("Expected pixel_values to be [][]float32, got %T", out["pixel_values"])
	}
	if len(pixelValues) != 2 {
		t.Fatalf("Expected 2 preprocessed images, got %d", len(pixelValues))
	}

	size := DefaultConfig().ImageSize
	if len(pixelValues[0]) != 3*size*size {
		t.Errorf("Expected %d values per image, got %d", 3*size*size, len(pixelValues[0]))
	}

	// A white image normalizes to (1 - mean) / std in every channel.
	cfg := DefaultConfig()
	for channel := 0; channel < 3; channel++ {
		expected := (1 - cfg.Mean[channel]) / cfg.Std[channel]
		got := pixelValues[0][channel*size*size]
		if math.Abs(float64(got-expected)) > 1e-4 {
			t.Errorf("Expected white channel %d value %f, got %f", channel, expected, got)
		}
	}

	shape, ok := out["pixel_shape"].([]int)
	if !ok || len(shape) != 4 || shape[0] != 2 || shape[1] != 3 || shape[2] != size || shape[3] != size {
		t.Errorf("Expected shape [2 3 %d %d], got %v", size, size, out["pixel_shape"])
	}
}

func TestProcessImages_NilImage(t *testing.T) {
	p := NewProcessor(DefaultConfig(), nil)
	_, err := p.ProcessImages(context.Background(), []image.Image{nil})
	if err == nil {
		t.Error("Expected an error for a nil image, got nil")
	}
}

func TestDecodeImage_PNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(4, 4, color.White)); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}

	img, err := DecodeImage(buf.Bytes())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Errorf("Expected 4x4 image, got %v", img.Bounds())
	}
}

func TestDecodeImage_Garbage(t *testing.T) {
	if _, err := DecodeImage([]byte("definitely not an image")); err == nil {
		t.Error("Expected an error for garbage input, got nil")
	}
}
