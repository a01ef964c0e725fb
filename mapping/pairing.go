package mapping

import (
	"github.com/gmaffy/encode-map/encode"
	"github.com/samber/lo"
)

// Pair is a paired-end read file and its mate, in the order they were matched.
// Mate is nil when no mate could be found.
type Pair struct {
	File *encode.File
	Mate *encode.File
}

// Read returns the member of the pair with the given paired_end value.
func (p Pair) Read(n string) *encode.File {
	for _, f := range []*encode.File{p.File, p.Mate} {
		if f != nil && f.PairedEnd == n {
			return f
		}
	}
	return nil
}

// Grouping is the result of pairing one replicate's files.
type Grouping struct {
	Paired   []Pair
	Unpaired []*encode.File
	// Leftover files could not be placed in either group.
	Leftover []*encode.File
	// Mateless are paired-end files whose mate was not among the files.
	Mateless []*encode.File
}

// PairFiles splits files into paired-end pairs and unpaired files. Files are
// taken from the end of the list. A read's mate is the remaining file its
// paired_with points at or, when it has no paired_with, the remaining file
// pointing back at it. With forceSE, only read 1 of each pair is kept and is
// treated as single-end. Each file ends up in at most one pair.
func PairFiles(files []*encode.File, forceSE bool) Grouping {
	var g Grouping
	remaining := append([]*encode.File(nil), files...)

	for len(remaining) > 0 {
		f := remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]

		switch f.PairedEnd {
		case "":
			g.Unpaired = append(g.Unpaired, f)
		case "1", "2":
			var mate *encode.File
			var idx int
			var found bool
			if f.PairedWith != "" {
				mate, idx, found = lo.FindIndexOf(remaining, func(m *encode.File) bool { return m.ID == f.PairedWith })
			} else {
				mate, idx, found = lo.FindIndexOf(remaining, func(m *encode.File) bool { return m.PairedWith == f.ID })
			}
			if found {
				remaining = append(remaining[:idx], remaining[idx+1:]...)
			} else {
				mate = nil
				g.Mateless = append(g.Mateless, f)
			}

			pair := Pair{File: f, Mate: mate}
			if !forceSE {
				g.Paired = append(g.Paired, pair)
				continue
			}
			if r1 := pair.Read("1"); r1 != nil {
				g.Unpaired = append(g.Unpaired, r1)
			} else {
				g.Leftover = append(g.Leftover, f)
			}
		default:
			g.Leftover = append(g.Leftover, f)
		}
	}
	return g
}
