package gallery

import (
	"math"
	"math/rand"
	"sort"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

const (
	indexMaxNeighbors = 16
	indexEfSearch     = 100
	indexSeed         = 1
	// minIndexCandidates is how many graph neighbours seed the distance bound.
	minIndexCandidates = 32
	// indexPivots is the number of reference entries kept for triangle-inequality pruning.
	indexPivots = 8
)

// Index narrows the entries a probe has to be compared against without changing the
// result. The HNSW graph finds likely neighbours, whose exact distances give an upper
// bound on the K-th best distance. Entries are then pruned with the triangle inequality
// against a few pivot entries: |d(e,p) - d(q,p)| <= d(e,q). Only entries whose lower
// bound exceeds the upper bound are skipped, so the ranking equals a full scan no
// matter how well the graph recalls.
type Index struct {
	graph   *hnsw.Graph[int]
	entries []facematch.Entry
	dim     int

	pivots    []int
	pivotDist [][]float64 // pivotDist[i][j] = d(entries[i], entries[pivots[j]])
}

// NewIndex builds an index over entries. Entries whose dimension differs from the first
// entry's are left out of the graph and are always returned as candidates.
func NewIndex(entries []facematch.Entry) *Index {
	x := &Index{entries: entries}
	if len(entries) == 0 || len(entries[0].Embedding) == 0 {
		return x
	}
	x.dim = len(entries[0].Embedding)

	g := hnsw.NewGraph[int]()
	g.M = indexMaxNeighbors
	g.EfSearch = indexEfSearch
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(indexSeed)) //nolint:gosec // level generation, not security
	for i, e := range entries {
		if len(e.Embedding) != x.dim {
			continue
		}
		g.Add(hnsw.MakeNode(i, []float32(e.Embedding)))
	}
	x.graph = g

	x.pivots = x.choosePivots()
	x.pivotDist = make([][]float64, len(entries))
	for i, e := range entries {
		if len(e.Embedding) != x.dim {
			continue
		}
		row := make([]float64, len(x.pivots))
		for j, p := range x.pivots {
			row[j] = facematch.Distance(e.Embedding, entries[p].Embedding)
		}
		x.pivotDist[i] = row
	}
	return x
}

// choosePivots picks spread-out entries by farthest-first traversal from the first entry.
func (x *Index) choosePivots() []int {
	nearest := make([]float64, len(x.entries))
	for i := range nearest {
		nearest[i] = math.Inf(1)
	}

	var pivots []int
	next := 0
	for len(pivots) < indexPivots {
		pivots = append(pivots, next)
		best, bestDist := -1, 0.0
		for i, e := range x.entries {
			if len(e.Embedding) != x.dim {
				continue
			}
			d := facematch.Distance(e.Embedding, x.entries[next].Embedding)
			nearest[i] = min(nearest[i], d)
			if nearest[i] > bestDist {
				best, bestDist = i, nearest[i]
			}
		}
		if best < 0 {
			break // every remaining entry coincides with a pivot
		}
		next = best
	}
	return pivots
}

// Len returns the number of indexed vectors.
func (x *Index) Len() int {
	if x.graph == nil {
		return 0
	}
	return x.graph.Len()
}

// Candidates returns, in gallery enumeration order, a subset of entries that contains
// every entry MatchGallery(probe, entries, threshold, topK) would return. A probe the
// index cannot serve gets every entry back.
func (x *Index) Candidates(probe facematch.Embedding, threshold float64, topK int) []facematch.Entry {
	if x.graph == nil || x.graph.Len() == 0 || len(probe) != x.dim {
		return x.entries
	}

	bound := threshold
	if topK > 0 {
		bound = min(bound, x.kthDistance(probe, threshold, topK))
	}
	if math.IsInf(bound, 1) || math.IsNaN(bound) {
		return x.entries
	}
	// Pivot distances are rounded like any float; never prune an entry on a rounding error.
	bound += 1e-9 + 1e-6*bound

	probeDist := make([]float64, len(x.pivots))
	for j, p := range x.pivots {
		probeDist[j] = facematch.Distance(probe, x.entries[p].Embedding)
	}

	out := make([]facematch.Entry, 0, minIndexCandidates)
	for i, e := range x.entries {
		row := x.pivotDist[i]
		if row == nil {
			out = append(out, e)
			continue
		}
		if lowerBound(row, probeDist) <= bound {
			out = append(out, e)
		}
	}
	return out
}

// kthDistance returns the topK-th smallest exact distance within threshold among the
// graph neighbours and pivots, or +Inf when fewer than topK of them pass the threshold.
func (x *Index) kthDistance(probe facematch.Embedding, threshold float64, topK int) float64 {
	seen := make(map[int]bool)
	var dists []float64
	consider := func(i int) {
		if seen[i] {
			return
		}
		seen[i] = true
		if d := facematch.Distance(probe, x.entries[i].Embedding); d <= threshold {
			dists = append(dists, d)
		}
	}

	for _, n := range x.graph.Search([]float32(probe), max(topK, minIndexCandidates)) {
		consider(n.Key)
	}
	for _, p := range x.pivots {
		consider(p)
	}

	if len(dists) < topK {
		return math.Inf(1)
	}
	sort.Float64s(dists)
	return dists[topK-1]
}

func lowerBound(entryDist, probeDist []float64) float64 {
	var lb float64
	for j := range entryDist {
		lb = max(lb, math.Abs(entryDist[j]-probeDist[j]))
	}
	return lb
}

// BuildIndex attaches an HNSW prefilter to the gallery.
func (g *Gallery) BuildIndex() {
	g.index = NewIndex(g.Entries)
}

// Candidates returns the entries worth comparing against probe: all of them, or the
// pruned subset when BuildIndex was called.
func (g *Gallery) Candidates(probe facematch.Embedding, threshold float64, topK int) []facematch.Entry {
	if g.index == nil {
		return g.Entries
	}
	return g.index.Candidates(probe, threshold, topK)
}

// Match ranks the gallery against probe. The result is the same with or without an index.
func (g *Gallery) Match(probe facematch.Embedding, threshold float64, topK int) []facematch.Candidate {
	return facematch.MatchGallery(probe, g.Candidates(probe, threshold, topK), threshold, topK)
}
