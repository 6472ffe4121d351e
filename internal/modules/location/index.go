// README: Candidate prefilters for Nearby; each may over-approximate, never drop a driver in range.
package location

import (
	"fmt"

	"github.com/dhconnelly/rtreego"
	"github.com/mmcloughlin/geohash"

	"ridematch/internal/types"
)

type IndexKind string

const (
	IndexScan    IndexKind = "scan"
	IndexGeohash IndexKind = "geohash"
	IndexRTree   IndexKind = "rtree"
)

// Index narrows a candidate snapshot before the exact distance check.
type Index interface {
	Prefilter(center types.Point, radiusKm float64) []Candidate
}

func ParseIndexKind(s string) (IndexKind, error) {
	switch k := IndexKind(s); k {
	case IndexScan, IndexGeohash, IndexRTree:
		return k, nil
	}
	return "", fmt.Errorf("unknown geo index %q", s)
}

func NewIndex(kind IndexKind, cands []Candidate) Index {
	switch kind {
	case IndexGeohash:
		return newGeohashIndex(cands)
	case IndexRTree:
		return newRTreeIndex(cands)
	}
	return scanIndex(cands)
}

type scanIndex []Candidate

func (s scanIndex) Prefilter(types.Point, float64) []Candidate {
	return s
}

const maxGeohashPrecision = 12

type geohashIndex struct {
	cands  []Candidate
	hashes []string
}

func newGeohashIndex(cands []Candidate) *geohashIndex {
	hashes := make([]string, len(cands))
	for i, c := range cands {
		hashes[i] = geohash.EncodeWithPrecision(c.Point.Lat, c.Point.Lng, maxGeohashPrecision)
	}
	return &geohashIndex{cands: cands, hashes: hashes}
}

// Prefilter keeps candidates in the query cell or one of its 8 neighbours, using the finest
// precision whose cells are at least as large as the search span. Blocks that would cross the
// antimeridian or a pole fall back to the full snapshot.
func (g *geohashIndex) Prefilter(center types.Point, radiusKm float64) []Candidate {
	precision, ok := coveringPrecision(center, radiusKm)
	if !ok {
		return g.cands
	}
	cell := geohash.EncodeWithPrecision(center.Lat, center.Lng, precision)
	box := geohash.BoundingBox(cell)
	w, h := box.MaxLng-box.MinLng, box.MaxLat-box.MinLat
	if box.MinLng-w < -180 || box.MaxLng+w > 180 || box.MinLat-h < -90 || box.MaxLat+h > 90 {
		return g.cands
	}
	cells := map[string]struct{}{cell: {}}
	for _, n := range geohash.Neighbors(cell) {
		cells[n] = struct{}{}
	}

	out := make([]Candidate, 0, len(g.cands))
	for i, c := range g.cands {
		if _, ok := cells[g.hashes[i][:precision]]; ok {
			out = append(out, c)
		}
	}
	return out
}

func coveringPrecision(center types.Point, radiusKm float64) (uint, bool) {
	dLat, dLng := degreeSpan(center.Lat, radiusKm)
	if dLng >= 180 {
		return 0, false
	}
	for p := uint(maxGeohashPrecision); p >= 1; p-- {
		box := geohash.BoundingBox(geohash.EncodeWithPrecision(center.Lat, center.Lng, p))
		if box.MaxLat-box.MinLat >= dLat && box.MaxLng-box.MinLng >= dLng {
			return p, true
		}
	}
	return 0, false
}

type spatialCandidate struct {
	Candidate
	rect rtreego.Rect
}

func (s *spatialCandidate) Bounds() rtreego.Rect {
	return s.rect
}

type rtreeIndex struct {
	tree  *rtreego.Rtree
	cands []Candidate
}

func newRTreeIndex(cands []Candidate) *rtreeIndex {
	objs := make([]rtreego.Spatial, 0, len(cands))
	for _, c := range cands {
		objs = append(objs, &spatialCandidate{
			Candidate: c,
			rect:      rtreego.Point{c.Point.Lng, c.Point.Lat}.ToRect(1e-9),
		})
	}
	return &rtreeIndex{tree: rtreego.NewTree(2, 25, 50, objs...), cands: cands}
}

// Prefilter searches the degree box around center; boxes crossing the antimeridian
// or a pole fall back to the full snapshot.
func (r *rtreeIndex) Prefilter(center types.Point, radiusKm float64) []Candidate {
	dLat, dLng := degreeSpan(center.Lat, radiusKm)
	minLng, maxLng := center.Lng-dLng, center.Lng+dLng
	minLat, maxLat := center.Lat-dLat, center.Lat+dLat
	if minLng < -180 || maxLng > 180 || minLat < -90 || maxLat > 90 {
		return r.cands
	}
	box, err := rtreego.NewRectFromPoints(rtreego.Point{minLng, minLat}, rtreego.Point{maxLng, maxLat})
	if err != nil {
		return r.cands
	}
	hits := r.tree.SearchIntersect(box)
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*spatialCandidate).Candidate)
	}
	return out
}
