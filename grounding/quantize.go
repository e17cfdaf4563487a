package grounding

import "math"

// CoordinateToPatchIndex quantizes a normalized bounding box onto a
// gridSide x gridSide patch grid and returns the linear indices of the
// upper-left and lower-right cells. No clamping is applied: out-of-range
// coordinates produce out-of-range indices, which is the caller's contract
// to avoid.
func CoordinateToPatchIndex(box CoordinateBox, gridSide int) PatchIndexBox {
	side := float64(gridSide)

	ulX := int(math.Floor(box.X1 * side))
	ulY := int(math.Floor(box.Y1 * side))

	lrX := int(math.Ceil(box.X2*side - 1))
	lrY := int(math.Ceil(box.Y2*side - 1))

	return PatchIndexBox{
		UpperLeft:  ulY*gridSide + ulX,
		LowerRight: lrY*gridSide + lrX,
	}
}

// PatchIndexToCoordinate is the quantization-lossy inverse of
// CoordinateToPatchIndex. Single cells and spans confined to one row or one
// column map to the raw cell boundaries; rectangles covering at least two
// rows and two columns are offset half a cell inward, matching the
// centroid-biased convention of the grounding annotations. The single
// row/column exception is kept as-is from that convention.
func PatchIndexToCoordinate(ulIdx, lrIdx, gridSide int) CoordinateBox {
	cell := 1.0 / float64(gridSide)

	ulX := ulIdx % gridSide
	ulY := ulIdx / gridSide
	lrX := lrIdx % gridSide
	lrY := lrIdx / gridSide

	if ulIdx == lrIdx || ulX == lrX || ulY == lrY {
		return CoordinateBox{
			X1: float64(ulX) * cell,
			Y1: float64(ulY) * cell,
			X2: float64(lrX)*cell + cell,
			Y2: float64(lrY)*cell + cell,
		}
	}

	return CoordinateBox{
		X1: float64(ulX)*cell + cell/2,
		Y1: float64(ulY)*cell + cell/2,
		X2: float64(lrX)*cell + cell/2,
		Y2: float64(lrY)*cell + cell/2,
	}
}
