package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// ControlNumberPrefix starts every control number.
const ControlNumberPrefix = "RMF"

// controlNumberPattern accepts sequences of three or more digits; numbers past
// 999 widen instead of wrapping.
var controlNumberPattern = regexp.MustCompile(`^RMF-([A-Z]+)-(\d{4})-(\d{2})-(\d{3,})$`)

// ControlNumber is the parsed form of RMF-{code}-{YYYY}-{MM}-{SEQ}.
type ControlNumber struct {
	CategoryCode string
	Year         int
	Month        int
	Sequence     int64
}

// String renders the control number with a sequence padded to three digits.
func (c ControlNumber) String() string {
	return fmt.Sprintf("%s-%s-%04d-%02d-%03d", ControlNumberPrefix, c.CategoryCode, c.Year, c.Month, c.Sequence)
}

// ParseControlNumber splits s into its parts.
func ParseControlNumber(s string) (ControlNumber, error) {
	m := controlNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return ControlNumber{}, fmt.Errorf("malformed control number %q", s)
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	seq, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return ControlNumber{}, fmt.Errorf("control number %q: %w", s, err)
	}
	if month < 1 || month > 12 {
		return ControlNumber{}, fmt.Errorf("control number %q: month out of range", s)
	}
	return ControlNumber{CategoryCode: m[1], Year: year, Month: month, Sequence: seq}, nil
}
