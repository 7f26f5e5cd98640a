package chimera

import (
	"sort"

	"github.com/pkg/errors"
)

// Candidate is a nominated chimeric transcript pair: a 5' transcript cut at
// End5 joined to a 3' transcript starting at Start3, both in transcript
// coordinates.
type Candidate struct {
	Tx5, Tx3           string
	Cluster5, Cluster3 ClusterID
	// End5 is the exclusive transcript-space end of the 5' segment, Start3
	// the inclusive start of the 3' segment.
	End5, Start3 int
	// Frags is the raw supporting fragment count, WeightedCov the multimap
	// weighted count.
	Frags       int
	WeightedCov float64
	// MaxInnerDist is the largest unspanned distance between a supporting
	// read and the boundary, on whichever side is worse.
	MaxInnerDist int
}

type candKey struct{ tx5, tx3 string }

type candAgg struct {
	cluster5, cluster3 ClusterID
	maxEnd5, minStart3 int
	minStart5, maxEnd3 int
	frags              int
	weight             float64
}

// Nominator accumulates discordant gene fragments into Candidates, one per
// supported transcript pair.
type Nominator struct {
	opts  *Opts
	idx   *GeneClusterIndex
	cands map[candKey]*candAgg
}

// NewNominator creates an empty Nominator.
func NewNominator(idx *GeneClusterIndex, opts *Opts) *Nominator {
	return &Nominator{opts: opts, idx: idx, cands: map[candKey]*candAgg{}}
}

// Add folds one classified fragment into the candidate set. Only
// ClassDiscordantGene fragments contribute; others are ignored. A fragment
// supporting the same transcript pair through several alignment combinations
// is counted once per pair.
func (n *Nominator) Add(cl Classification) {
	if cl.Class != ClassDiscordantGene {
		return
	}
	seen := map[candKey]struct{}{}
	for _, p := range cl.Pairings {
		k := candKey{p.L5.Tx, p.L3.Tx}
		agg := n.cands[k]
		if agg == nil {
			agg = &candAgg{
				cluster5: p.Cluster5, cluster3: p.Cluster3,
				maxEnd5: p.L5.End, minStart3: p.L3.Start,
				minStart5: p.L5.Start, maxEnd3: p.L3.End,
			}
			n.cands[k] = agg
		}
		if p.L5.End > agg.maxEnd5 {
			agg.maxEnd5 = p.L5.End
		}
		if p.L3.Start < agg.minStart3 {
			agg.minStart3 = p.L3.Start
		}
		if p.L5.Start < agg.minStart5 {
			agg.minStart5 = p.L5.Start
		}
		if p.L3.End > agg.maxEnd3 {
			agg.maxEnd3 = p.L3.End
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		agg.frags++
		agg.weight += p.Weight
	}
}

// Candidates snaps each accumulated boundary to a nearby exon junction and
// returns the candidate list, ordered by transcript pair. The boundary is the
// furthest 5' read end and the nearest 3' read start; a coordinate within
// opts.ExonJunctionTrim bases of an annotated junction is moved onto the
// junction.
func (n *Nominator) Candidates() ([]Candidate, error) {
	cands := make([]Candidate, 0, len(n.cands))
	for k, agg := range n.cands {
		tx5 := n.idx.Transcript(k.tx5)
		tx3 := n.idx.Transcript(k.tx3)
		if tx5 == nil || tx3 == nil {
			return nil, errors.Wrapf(ErrAlignmentStream, "candidate references unknown transcript %s/%s", k.tx5, k.tx3)
		}
		end5 := snapToJunction(tx5, agg.maxEnd5, n.opts.ExonJunctionTrim)
		start3 := snapToJunction(tx3, agg.minStart3, n.opts.ExonJunctionTrim)
		inner := end5 - agg.minStart5
		if d := agg.maxEnd3 - start3; d > inner {
			inner = d
		}
		cands = append(cands, Candidate{
			Tx5: k.tx5, Tx3: k.tx3,
			Cluster5: agg.cluster5, Cluster3: agg.cluster3,
			End5: end5, Start3: start3,
			Frags:        agg.frags,
			WeightedCov:  agg.weight,
			MaxInnerDist: inner,
		})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Tx5 != cands[j].Tx5 {
			return cands[i].Tx5 < cands[j].Tx5
		}
		return cands[i].Tx3 < cands[j].Tx3
	})
	return cands, nil
}

// snapToJunction moves pos onto the nearest exon junction of tx when one lies
// within trim bases, preferring the upstream junction on ties.
func snapToJunction(tx *Transcript, pos, trim int) int {
	best, bestDist := pos, trim+1
	for _, j := range tx.JunctionOffsets() {
		d := j - pos
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}
