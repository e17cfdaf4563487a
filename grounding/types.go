package grounding

import "errors"

// BoundingBox is either an already-quantized pair of patch indices or a box
// in normalized image coordinates. Which form is in use is decided by the
// concrete type, so shape validation happens once at the caller boundary
// instead of being re-checked throughout the codec.
type BoundingBox interface {
	isBoundingBox()
}

// PatchIndexBox identifies a box by the linear grid indices of its
// upper-left and lower-right cells.
type PatchIndexBox struct {
	UpperLeft  int `json:"upper_left"`
	LowerRight int `json:"lower_right"`
}

func (PatchIndexBox) isBoundingBox() {}

// CoordinateBox is a box in normalized [0,1] image coordinates, with
// (X1, Y1) the upper-left corner and (X2, Y2) the lower-right corner.
// Callers are responsible for X2 >= X1 and Y2 >= Y1.
type CoordinateBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (CoordinateBox) isBoundingBox() {}

// BoxGroup is the ordered list of boxes grounding one phrase occurrence.
// A nil or empty group means the phrase carries no grounding.
type BoxGroup []BoundingBox

// Entity is one grounded span recovered from generated text. Start and End
// are byte offsets into the tag-stripped text, never the raw tagged text.
type Entity struct {
	Name  string          `json:"name"`
	Start int             `json:"start"`
	End   int             `json:"end"`
	Boxes []CoordinateBox `json:"boxes"`
}

// PatchEntity is the intermediate form produced by ExtractEntities: boxes
// still in the patch-index domain, span offsets still in raw-text
// coordinates.
type PatchEntity struct {
	Name  string
	Start int
	End   int
	Pairs []PatchIndexBox
}

var (
	// ErrPhraseCountMismatch reports that the number of <phrase> spans in a
	// text does not line up with the supplied box groups.
	ErrPhraseCountMismatch = errors.New("phrase count does not match box group count")

	// ErrInvalidBox reports a box group member that is neither a patch-index
	// box nor a coordinate box.
	ErrInvalidBox = errors.New("invalid bounding box")
)
