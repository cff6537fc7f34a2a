package dmp

import (
	"fmt"
	"strconv"
)

// Attr identifies one read-only statistics attribute of a namespace node
type Attr uint8

const (
	AttrReadReqs Attr = iota
	AttrWriteReqs
	AttrReadAvgSize
	AttrWriteAvgSize
	AttrTotalReqs
	AttrTotalAvgSize

	numAttrs
)

// attrTable maps each Attr to its file name and accessor. Accessors take
// only the locks they need: single-direction attributes lock one pair,
// total attributes lock both.
var attrTable = [numAttrs]struct {
	name string
	show func(*Stats) uint64
}{
	AttrReadReqs:     {"read_reqs", (*Stats).ReadReqs},
	AttrWriteReqs:    {"write_reqs", (*Stats).WriteReqs},
	AttrReadAvgSize:  {"read_avg_size", (*Stats).ReadAvgSize},
	AttrWriteAvgSize: {"write_avg_size", (*Stats).WriteAvgSize},
	AttrTotalReqs:    {"total_reqs", (*Stats).TotalReqs},
	AttrTotalAvgSize: {"total_avg_size", (*Stats).TotalAvgSize},
}

// Attrs returns every attribute in exposition order
func Attrs() []Attr {
	attrs := make([]Attr, numAttrs)
	for i := range attrs {
		attrs[i] = Attr(i)
	}
	return attrs
}

// ParseAttr resolves an attribute file name
func ParseAttr(name string) (Attr, bool) {
	for i, a := range attrTable {
		if a.name == name {
			return Attr(i), true
		}
	}
	return 0, false
}

func (a Attr) String() string {
	if a >= numAttrs {
		return "attr(" + strconv.Itoa(int(a)) + ")"
	}
	return attrTable[a].name
}

// Value reads the attribute from a live counter
func (a Attr) Value(s *Stats) uint64 {
	return attrTable[a].show(s)
}

// Show renders an attribute the way it reads from the exposition tree:
// decimal digits followed by a newline.
func Show(s *Stats, a Attr) string {
	return strconv.FormatUint(a.Value(s), 10) + "\n"
}

// Store rejects every write. The counters are left untouched.
func Store(s *Stats, a Attr, data []byte) error {
	return fmt.Errorf("%s/%s: %w", s.Name(), a, ErrAttributeWriteRejected)
}
