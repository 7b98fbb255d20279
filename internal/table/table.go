// Package table finds tabular regions on a page from text geometry.
package table

import (
	"math"
	"sort"
	"strings"

	"github.com/spherical/pdf-enricher/internal/pdf"
)

const (
	// RowTolerance is the maximum distance in points between the vertical
	// centres of two blocks on the same row.
	RowTolerance = 2.0
	// MinColumns is the number of distinct columns that makes a row tabular.
	MinColumns = 3
	// MinRows is the number of consecutive tabular rows that make a table.
	MinRows = 3
)

// Region is a detected table.
type Region struct {
	Box pdf.Rect
	// Blocks are indexes into the page's block slice that the table replaces.
	Blocks []int
}

type row struct {
	center float64
	blocks []int
}

// Regions clusters text blocks into rows and returns every run of at least
// MinRows consecutive rows that each span MinColumns distinct columns.
func Regions(blocks []pdf.TextBlock) []Region {
	if len(blocks) < MinColumns*MinRows {
		return nil
	}

	order := make([]int, len(blocks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return blocks[order[a]].Box.CenterY() < blocks[order[b]].Box.CenterY()
	})

	var rows []row
	for _, i := range order {
		c := blocks[i].Box.CenterY()
		if n := len(rows); n > 0 && math.Abs(rows[n-1].center-c) <= RowTolerance {
			rows[n-1].blocks = append(rows[n-1].blocks, i)
			continue
		}
		rows = append(rows, row{center: c, blocks: []int{i}})
	}

	var regions []Region
	var run []row
	flush := func() {
		if len(run) >= MinRows {
			regions = append(regions, newRegion(blocks, run))
		}
		run = nil
	}
	for _, r := range rows {
		if columns(blocks, r.blocks) >= MinColumns {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return regions
}

// Detect returns Regions, falling back to the text heuristic: when the
// geometry shows no table but the page text looks tabular, the whole text
// area becomes one region.
func Detect(blocks []pdf.TextBlock) []Region {
	if regions := Regions(blocks); len(regions) > 0 {
		return regions
	}
	if len(blocks) == 0 {
		return nil
	}
	lines := make([]string, len(blocks))
	for i, b := range blocks {
		lines[i] = b.Text
	}
	if !LooksLikeTable(strings.Join(lines, "\n")) {
		return nil
	}
	all := make([]row, 1)
	for i := range blocks {
		all[0].blocks = append(all[0].blocks, i)
	}
	return []Region{newRegion(blocks, all)}
}

func newRegion(blocks []pdf.TextBlock, rows []row) Region {
	var reg Region
	for _, r := range rows {
		for _, i := range r.blocks {
			reg.Box = reg.Box.Union(blocks[i].Box)
			reg.Blocks = append(reg.Blocks, i)
		}
	}
	sort.Ints(reg.Blocks)
	return reg
}

// columns counts distinct left edges, rounded to whole points.
func columns(blocks []pdf.TextBlock, idx []int) int {
	seen := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		seen[int(math.Round(blocks[i].Box.X0))] = struct{}{}
	}
	return len(seen)
}

// LooksLikeTable reports whether plain text reads like a table. Two signals
// are used: at least 40% of lines split into columns by runs of two or more
// spaces, or six consecutive lines of three or more tokens whose token
// counts differ by at most two (column gaps collapsed to single spaces).
func LooksLikeTable(text string) bool {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 3 {
		return false
	}

	tabular := 0
	for _, l := range lines {
		if spaceGroups(l) >= 2 {
			tabular++
		}
	}
	if float64(tabular)/float64(len(lines)) >= 0.4 {
		return true
	}

	best, run := 1, 1
	prev := len(strings.Fields(lines[0]))
	for _, l := range lines[1:] {
		cur := len(strings.Fields(l))
		if prev >= 3 && cur >= 3 && absInt(prev-cur) <= 2 {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 1
		}
		prev = cur
	}
	return best >= 6
}

func spaceGroups(line string) int {
	groups, spaces := 0, 0
	for _, r := range line {
		if r == ' ' || r == '\t' {
			spaces++
			if spaces == 2 {
				groups++
			}
			continue
		}
		spaces = 0
	}
	return groups
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
