package detect

// Rect is a detection box in pixel space, corner form.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (r Rect) Width() int {
	return r.X2 - r.X1
}

func (r Rect) Height() int {
	return r.Y2 - r.Y1
}

func (r Rect) Area() int {
	return r.Width() * r.Height()
}

func (r Rect) Intersection(b Rect) Rect {
	i := Rect{
		X1: max(r.X1, b.X1),
		Y1: max(r.Y1, b.Y1),
		X2: min(r.X2, b.X2),
		Y2: min(r.Y2, b.Y2),
	}
	if i.X2 < i.X1 {
		i.X2 = i.X1
	}
	if i.Y2 < i.Y1 {
		i.Y2 = i.Y1
	}
	return i
}

func (r Rect) IOU(b Rect) float32 {
	inter := r.Intersection(b).Area()
	union := r.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float32(inter) / float32(union)
}
