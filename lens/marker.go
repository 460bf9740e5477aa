package lens

import (
	"crypto/sha256"
	"strconv"

	"github.com/mtraver/base91"
)

// markerLen is the number of hash bytes kept in a marker.
const markerLen = 12

// MakeMarker returns the deterministic identifier of an injection. Identical (line, code, position) triples
// always produce the same marker, so a request already spliced next to a statement is recognized on later passes.
func MakeMarker(line int, code string, pos Position) string {
	h := sha256.New()
	_, _ = h.Write([]byte(strconv.Itoa(line)))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(code))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(pos.String()))
	sum := h.Sum(nil)
	return base91.StdEncoding.EncodeToString(sum[:markerLen])
}

// markerSet records the markers applied adjacent to one original statement.
type markerSet map[string]struct{}

func (s markerSet) has(marker string) bool {
	_, ok := s[marker]
	return ok
}

func (s markerSet) add(marker string) {
	s[marker] = struct{}{}
}
