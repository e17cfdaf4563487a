package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	onnxruntime "github.com/yalue/onnxruntime_go"

	"github.com/hannes/groundtag/grounding"
)

// DefaultNumImageTokens is the length of the image-latent token run used as
// latent queries by the model.
const DefaultNumImageTokens = 64

// Padding selects how tokenized batches are padded.
type Padding string

const (
	PaddingNone      Padding = ""
	PaddingLongest   Padding = "longest"
	PaddingMaxLength Padding = "max_length"
)

// PaddingSide is the side the tokenizer pads on.
type PaddingSide string

const (
	PaddingSideRight PaddingSide = "right"
	PaddingSideLeft  PaddingSide = "left"
)

// ReturnTensorsONNX asks Process to materialize the encoding as ONNX
// Runtime tensors via Encoding.Tensors; it requires an initialized runtime
// environment.
const ReturnTensorsONNX = "onnx"

var (
	// ErrNoInput reports a call with neither images nor text.
	ErrNoInput = errors.New("either images or text must be provided")

	// ErrBatchLengthMismatch reports text/image/bbox batches of diverging
	// lengths.
	ErrBatchLengthMismatch = errors.New("batch lengths do not line up")

	// ErrBadReturnTensors reports an unsupported return-tensors value.
	ErrBadReturnTensors = errors.New(`return_tensors should be "" or "onnx"`)

	// ErrTensorBackendUnavailable reports tensor materialization without an
	// initialized ONNX runtime environment.
	ErrTensorBackendUnavailable = errors.New("onnx runtime environment is not initialized")

	// ErrNoImagePlaceholder reports a tokenized sequence missing the image
	// placeholder token that expansion should replace.
	ErrNoImagePlaceholder = errors.New("no image placeholder token in sequence")
)

// TokenizeOptions is the configuration forwarded to the tokenizer
// collaborator for one call.
type TokenizeOptions struct {
	AddSpecialTokens bool
	Padding          Padding
	Truncation       bool
	MaxLength        int
	PadToMultipleOf  int
}

// TokenizedText is a batch of tokenized sequences with their attention
// masks, aligned 1:1.
type TokenizedText struct {
	InputIDs      [][]int64
	AttentionMask [][]int64
}

// Tokenizer is the narrow view of the subword tokenizer the processor
// needs. Its vocabulary, subword merges and padding mechanics stay opaque.
type Tokenizer interface {
	Tokenize(texts []string, opts TokenizeOptions) (*TokenizedText, error)
	Decode(ids []int64, skipSpecialTokens bool) string

	BOSToken() string
	BOSTokenID() int64
	UnknownTokenID() int64
	PadTokenID() int64
	ImageTokenID() int64
	PaddingSide() PaddingSide

	TagTokens() []string
	NumPatchIndexTokens() int
}

// ImageProcessor is the narrow view of the image pipeline. Its output keys
// and tensor layout are processor-defined and opaque to this package.
type ImageProcessor interface {
	ProcessImages(ctx context.Context, images []image.Image) (map[string]any, error)
}

// Options configures one encode call. Start from DefaultOptions; the zero
// value disables special tokens, which is rarely what a caller wants.
type Options struct {
	NumImageTokens    int
	FirstImageTokenID int64 // 0 means unknown-token id + 1
	AddSpecialTokens  bool
	AddEOSToken       bool
	Padding           Padding
	Truncation        bool
	MaxLength         int
	PadToMultipleOf   int
	ReturnTensors     string
}

// DefaultOptions returns the options used by the serving path.
func DefaultOptions() Options {
	return Options{
		NumImageTokens:   DefaultNumImageTokens,
		AddSpecialTokens: true,
		AddEOSToken:      true,
	}
}

// Request carries one encode call. Texts and Images line up one to one when
// both are present; BoxGroups lines up with Texts when present, and each
// inner slice lines up with the <phrase> spans of its text.
type Request struct {
	Texts     []string
	Images    []image.Image
	BoxGroups [][]grounding.BoxGroup
	Options   Options
}

// Processor converts (images, text, bounding boxes) into model-ready
// encodings and generated text back into grounded entities. It holds no
// mutable state; every call is independent and the configuration travels
// with the request.
type Processor struct {
	tokenizer      Tokenizer
	imageProcessor ImageProcessor
}

// New creates a Processor over the given collaborators. imageProcessor may
// be nil for text-only use.
func New(tokenizer Tokenizer, imageProcessor ImageProcessor) *Processor {
	return &Processor{
		tokenizer:      tokenizer,
		imageProcessor: imageProcessor,
	}
}

// GridSide returns the patch grid side length derived from the tokenizer's
// patch-index vocabulary.
func (p *Processor) GridSide() int {
	side := int(math.Sqrt(float64(p.tokenizer.NumPatchIndexTokens())))
	if side < 1 {
		side = 1
	}
	return side
}

// Process runs the encode direction: text preprocessing (tag insertion and
// spacing normalization), tokenization, image processing and image-token
// expansion, then uniform batch padding.
func (p *Processor) Process(ctx context.Context, req Request) (*Encoding, error) {
	if len(req.Texts) == 0 && len(req.Images) == 0 {
		return nil, ErrNoInput
	}

	opts := req.Options
	if opts.NumImageTokens <= 0 {
		opts.NumImageTokens = DefaultNumImageTokens
	}
	switch opts.ReturnTensors {
	case "":
	case ReturnTensorsONNX:
		if !onnxruntime.IsInitialized() {
			return nil, ErrTensorBackendUnavailable
		}
	default:
		return nil, fmt.Errorf("%w: got %q", ErrBadReturnTensors, opts.ReturnTensors)
	}

	encoding := &Encoding{Extra: map[string]any{}}

	if len(req.Images) > 0 {
		if p.imageProcessor == nil {
			return nil, fmt.Errorf("images supplied but no image processor is configured")
		}
		imageEncoding, err := p.imageProcessor.ProcessImages(ctx, req.Images)
		if err != nil {
			return nil, fmt.Errorf("failed to process images: %w", err)
		}
		for key, value := range imageEncoding {
			encoding.Extra[key] = value
		}
	}

	if len(req.Texts) == 0 {
		return encoding, nil
	}

	texts, err := p.preprocessTexts(req.Texts, req.Images, req.BoxGroups)
	if err != nil {
		return nil, err
	}

	if opts.AddSpecialTokens && !opts.AddEOSToken {
		for i := range texts {
			texts[i] = p.tokenizer.BOSToken() + texts[i]
		}
	}

	tokenizeOpts := TokenizeOptions{
		AddSpecialTokens: opts.AddSpecialTokens && opts.AddEOSToken,
		Truncation:       opts.Truncation,
		MaxLength:        opts.MaxLength,
	}
	// With images present, padding is deferred until after image-token
	// expansion so the expanded run never lands inside the pad region.
	if len(req.Images) == 0 {
		tokenizeOpts.Padding = opts.Padding
		tokenizeOpts.PadToMultipleOf = opts.PadToMultipleOf
	}

	tokenized, err := p.tokenizer.Tokenize(texts, tokenizeOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize texts: %w", err)
	}
	encoding.InputIDs = tokenized.InputIDs
	encoding.AttentionMask = tokenized.AttentionMask

	if len(req.Images) > 0 {
		if err := p.expandImageTokens(encoding, opts); err != nil {
			return nil, err
		}
	}

	if opts.ReturnTensors == ReturnTensorsONNX {
		tensors, err := encoding.Tensors()
		if err != nil {
			return nil, fmt.Errorf("failed to materialize tensors: %w", err)
		}
		encoding.ONNX = tensors
	}

	return encoding, nil
}

// preprocessTexts builds the tagged model input for each example: trim,
// prepend the image token block when an image is present, insert patch
// index tokens for the box groups, then normalize tag spacing.
func (p *Processor) preprocessTexts(texts []string, images []image.Image, groups [][]grounding.BoxGroup) ([]string, error) {
	if len(images) > 0 && len(images) != len(texts) {
		return nil, fmt.Errorf("%w: got %d texts v.s. %d images", ErrBatchLengthMismatch, len(texts), len(images))
	}
	if groups != nil && len(groups) != len(texts) {
		return nil, fmt.Errorf("%w: got %d texts v.s. %d bbox groups", ErrBatchLengthMismatch, len(texts), len(groups))
	}

	vocabulary := grounding.TagVocabulary(p.tokenizer.NumPatchIndexTokens())
	gridSide := p.GridSide()

	out := make([]string, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if len(images) > 0 && images[i] != nil {
			text = imageTokenBlock + " " + text
		}

		var textGroups []grounding.BoxGroup
		if groups != nil {
			textGroups = groups[i]
		}
		inserted, err := grounding.InsertPatchIndexTokens(text, textGroups, gridSide)
		if err != nil {
			return nil, err
		}
		out[i] = grounding.NormalizeTagSpacing(inserted, vocabulary)
	}
	return out, nil
}

// imageTokenBlock is the textual form of the image slot: a begin marker,
// one placeholder that expansion later replaces with the latent run, and an
// end marker.
const imageTokenBlock = grounding.TagImageStart + " " + grounding.TagImageStart + " " + grounding.TagImageEnd
