package columngrid

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/batchsim/geom"
)

// Header describes the layout shared by every Source of a baked Set.
type Header struct {
	Radii   []float64 `yaml:"radii"`
	Bounds  Bounds    `yaml:"bounds"`
	Spacing float64   `yaml:"spacing"`
}

// Bake builds a Set from static box geometry, one Source per radius.
// Cells are treated conservatively: a box occupies a column if it comes
// within the sphere radius of any point of the cell.
func Bake(boxes []geom.AABB, h Header) *Set {
	sources := make([]*Source, len(h.Radii))
	for ri, r := range h.Radii {
		src := newSource(r, h.Bounds, h.Spacing)
		var occupied []Interval
		for cz := 0; cz < src.DimZ; cz++ {
			for cx := 0; cx < src.DimX; cx++ {
				c := cz*src.DimX + cx
				x0 := src.MinX + float64(cx)*src.GridSpacing
				z0 := src.MinZ + float64(cz)*src.GridSpacing

				occupied = occupied[:0]
				for _, b := range boxes {
					dx := math.Max(0, math.Max(b.Min.X-(x0+src.GridSpacing), x0-b.Max.X))
					dz := math.Max(0, math.Max(b.Min.Z-(z0+src.GridSpacing), z0-b.Max.Z))
					d2 := dx*dx + dz*dz
					if d2 > r*r {
						continue
					}
					pad := math.Sqrt(r*r - d2)
					occupied = append(occupied, Interval{MinY: b.Min.Y - pad, MaxY: b.Max.Y + pad})
				}

				src.intervals = append(src.intervals, freeIntervals(occupied)...)
				src.cellStart[c+1] = int32(len(src.intervals))
			}
		}
		sources[ri] = src
	}
	return NewSet(sources...)
}

// freeIntervals returns the complement of the union of occupied spans.
func freeIntervals(occupied []Interval) []Interval {
	sort.Slice(occupied, func(i, j int) bool { return occupied[i].MinY < occupied[j].MinY })

	var free []Interval
	lo := math.Inf(-1)
	for i := 0; i < len(occupied); {
		start, end := occupied[i].MinY, occupied[i].MaxY
		i++
		for i < len(occupied) && occupied[i].MinY <= end {
			end = math.Max(end, occupied[i].MaxY)
			i++
		}
		if start > lo {
			free = append(free, Interval{MinY: lo, MaxY: math.Nextafter(start, math.Inf(-1))})
		}
		lo = math.Nextafter(end, math.Inf(1))
	}
	return append(free, Interval{MinY: lo, MaxY: math.Inf(1)})
}

// csvRow is one free interval of one cell.
type csvRow struct {
	RadiusIdx int     `csv:"radius_idx"`
	Cell      int     `csv:"cell"`
	MinY      float64 `csv:"free_min_y"`
	MaxY      float64 `csv:"free_max_y"`
}

// WriteCSV writes every free interval of the set.
func (s *Set) WriteCSV(w io.Writer) error {
	var rows []csvRow
	for ri, src := range s.sources {
		for c := 0; c < src.DimX*src.DimZ; c++ {
			for _, iv := range src.intervals[src.cellStart[c]:src.cellStart[c+1]] {
				rows = append(rows, csvRow{RadiusIdx: ri, Cell: c, MinY: iv.MinY, MaxY: iv.MaxY})
			}
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing column grid: %w", err)
	}
	return nil
}

// LoadCSV reads a set written by WriteCSV. The header must match the one
// used at bake time.
func LoadCSV(r io.Reader, h Header) (*Set, error) {
	var rows []csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("reading column grid: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RadiusIdx != rows[j].RadiusIdx {
			return rows[i].RadiusIdx < rows[j].RadiusIdx
		}
		if rows[i].Cell != rows[j].Cell {
			return rows[i].Cell < rows[j].Cell
		}
		return rows[i].MinY < rows[j].MinY
	})

	sources := make([]*Source, len(h.Radii))
	for ri, radius := range h.Radii {
		sources[ri] = newSource(radius, h.Bounds, h.Spacing)
	}

	for _, row := range rows {
		if row.RadiusIdx < 0 || row.RadiusIdx >= len(sources) {
			return nil, fmt.Errorf("column grid: radius index %d out of range", row.RadiusIdx)
		}
		src := sources[row.RadiusIdx]
		if row.Cell < 0 || row.Cell >= src.DimX*src.DimZ {
			return nil, fmt.Errorf("column grid: cell %d out of range", row.Cell)
		}
		src.intervals = append(src.intervals, Interval{MinY: row.MinY, MaxY: row.MaxY})
		src.cellStart[row.Cell+1]++
	}
	for _, src := range sources {
		for c := 1; c < len(src.cellStart); c++ {
			src.cellStart[c] += src.cellStart[c-1]
		}
	}

	set := NewSet(sources...)
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
