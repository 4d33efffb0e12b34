package detection

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Area returns the box area in square pixels.
func (b BBox) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Detection is one object reported by a detector for a single frame.
// Values are immutable once created.
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// New builds a Detection with the box corners ordered (x1<=x2, y1<=y2)
// and confidence clamped to [0,1].
func New(className string, confidence float64, box BBox) Detection {
	if box.X2 < box.X1 {
		box.X1, box.X2 = box.X2, box.X1
	}
	if box.Y2 < box.Y1 {
		box.Y1, box.Y2 = box.Y2, box.Y1
	}
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return Detection{ClassName: className, Confidence: confidence, BBox: box}
}

// Area returns the bounding box area.
func (d Detection) Area() int {
	return d.BBox.Area()
}
