package models

import "fmt"

// Position is one of the ten fixed finger positions, coded 1..10
// (right thumb to right little, then left thumb to left little).
type Position int

const (
	RightThumb Position = iota + 1
	RightIndex
	RightMiddle
	RightRing
	RightLittle
	LeftThumb
	LeftIndex
	LeftMiddle
	LeftRing
	LeftLittle
)

var positionNames = map[Position]string{
	RightThumb:  "right_thumb",
	RightIndex:  "right_index",
	RightMiddle: "right_middle",
	RightRing:   "right_ring",
	RightLittle: "right_little",
	LeftThumb:   "left_thumb",
	LeftIndex:   "left_index",
	LeftMiddle:  "left_middle",
	LeftRing:    "left_ring",
	LeftLittle:  "left_little",
}

// ParsePosition decodes a numeric position code.
func ParsePosition(code int) (Position, error) {
	p := Position(code)
	if !p.Valid() {
		return 0, fmt.Errorf("invalid position code %d", code)
	}
	return p, nil
}

func (p Position) Valid() bool {
	return p >= RightThumb && p <= LeftLittle
}

func (p Position) Code() int {
	return int(p)
}

func (p Position) String() string {
	if name, ok := positionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("position(%d)", int(p))
}
