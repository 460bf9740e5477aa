package lens

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-analyze/bulk"
)

// Position selects where injected statements are placed relative to the target statement.
type Position uint8

const (
	// Before inserts the fragment ahead of the target statement.
	Before Position = iota
	// After inserts the fragment immediately following the target statement.
	After
)

// ErrInvalidPosition is returned when a position string can not be parsed.
var ErrInvalidPosition = errors.New("invalid injection position")

// ParsePosition accepts "before"/"-" and "after"/"+".
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "before", "-":
		return Before, nil
	case "after", "+":
		return After, nil
	default:
		return Before, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
	}
}

func (p Position) String() string {
	if p == After {
		return "after"
	}
	return "before"
}

// offset is the splice offset relative to the target index.
func (p Position) offset() int {
	if p == After {
		return 1
	}
	return 0
}

// Request is a single queued injection.
type Request struct {
	// Line is function relative, line 1 holds the func keyword.
	Line int `msgpack:"l"`
	// Code is the statement fragment to insert, it may contain multiple statements.
	Code string `msgpack:"c"`
	// Position selects before or after the target statement.
	Position Position `msgpack:"p"`
}

func (r Request) String() string {
	return fmt.Sprintf("%d:%s:%s", r.Line, r.Position, limitStringLines(r.Code, 1, true))
}

// Index maps a function relative line to the requests targeting it, in registration order.
type Index map[int][]Request

// BuildIndex groups requests by target line. Registration order is preserved within each line and
// duplicates are kept, the marker guard resolves them during the transform.
func BuildIndex(requests []Request) Index {
	return bulk.SliceToGroupsBy(func(r Request) int {
		return r.Line
	}, requests)
}

// Len returns the total number of requests in the index.
func (idx Index) Len() int {
	var count int
	for _, reqs := range idx {
		count += len(reqs)
	}
	return count
}
