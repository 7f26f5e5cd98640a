package chimera

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bio/encoding/fasta"
	"github.com/minio/highwayhash"
	"github.com/pkg/errors"
)

// junctionHashKey seeds the junction sequence hash. Fixed so runs are
// reproducible.
var junctionHashKey = []byte("chimerajunctionchimerajunction32")

func hashJunctionSeq(seq string) uint64 {
	return highwayhash.Sum64([]byte(seq), junctionHashKey)
}

// Resolver turns nominated candidates into breakpoint-resolved Records. For
// each candidate it measures the sequence homology straddling the naive
// boundary, shifts the breakpoint to its leftmost equivalent position, maps
// it to genome coordinates, and extracts the junction-flanking reference
// sequence used for spanning-read realignment.
type Resolver struct {
	opts *Opts
	idx  *GeneClusterIndex
	ref  fasta.Fasta
}

// NewResolver creates a Resolver reading transcript sequences from ref. The
// sequence names in ref must match transcript IDs.
func NewResolver(idx *GeneClusterIndex, ref fasta.Fasta, opts *Opts) *Resolver {
	return &Resolver{opts: opts, idx: idx, ref: ref}
}

// homologyScan extends from offset zero while the cumulative mismatch count
// between the two sequences stays within budget, up to max positions. at(i)
// returns the two bases i positions out, or false past either sequence end.
// The scan converges only when the mismatch budget bounds it within the
// window; ok is false when it ran off a sequence end or exhausted the window
// first, in which case the homology length is unusable.
func homologyScan(max, budget int, at func(i int) (byte, byte, bool)) (hom int, ok bool) {
	mm := 0
	for i := 0; i < max; i++ {
		b5, b3, in := at(i)
		if !in {
			return 0, false
		}
		if !basesEqual(b5, b3) {
			mm++
			if mm > budget {
				return i, true
			}
		}
	}
	return 0, false
}

func basesEqual(a, b byte) bool {
	if a >= 'a' {
		a -= 'a' - 'A'
	}
	if b >= 'a' {
		b -= 'a' - 'A'
	}
	return a == b && a != 'N'
}

// Resolve converts candidates to Records. Candidates whose breakpoints
// resolve to the same cluster pair and genome coordinate pair describe one
// event and merge into a single record, summing their support. The junction
// sequence and transcript names come from the first candidate resolved onto
// the breakpoint; candidates arrive in deterministic order, so the choice is
// stable.
func (r *Resolver) Resolve(cands []Candidate, stats *Stats) ([]*Record, error) {
	type mergeKey struct {
		c5, c3 ClusterID
		chrom5 string
		pos5   int
		chrom3 string
		pos3   int
	}
	merged := map[mergeKey]*Record{}
	var order []mergeKey
	for _, cand := range cands {
		rec, err := r.resolveOne(cand, stats)
		if err != nil {
			return nil, err
		}
		k := mergeKey{
			c5: rec.Cluster5, c3: rec.Cluster3,
			chrom5: rec.Chrom5, pos5: rec.Pos5,
			chrom3: rec.Chrom3, pos3: rec.Pos3,
		}
		prev := merged[k]
		if prev == nil {
			merged[k] = rec
			order = append(order, k)
			continue
		}
		prev.Frags += rec.Frags
		prev.WeightedCov += rec.WeightedCov
		if rec.MaxInnerDist > prev.MaxInnerDist {
			prev.MaxInnerDist = rec.MaxInnerDist
		}
		prev.LowConfidence = prev.LowConfidence || rec.LowConfidence
	}

	recs := make([]*Record, 0, len(order))
	for _, k := range order {
		recs = append(recs, merged[k])
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].less(recs[j]) })

	// Junction names are assigned after sorting so they are stable across
	// runs. Records with byte-identical junction sequences share a name.
	names := map[uint64]string{}
	for _, rec := range recs {
		h := hashJunctionSeq(rec.JunctionSeq)
		name, ok := names[h]
		if !ok {
			name = fmt.Sprintf("B%07d", len(names))
			names[h] = name
		}
		rec.Name = name
	}
	stats.Candidates += len(cands)
	stats.Records += len(recs)
	return recs, nil
}

func (r *Resolver) resolveOne(cand Candidate, stats *Stats) (*Record, error) {
	tx5 := r.idx.Transcript(cand.Tx5)
	tx3 := r.idx.Transcript(cand.Tx3)
	len5, len3 := tx5.Length(), tx3.Length()

	// Fetch enough sequence around the naive boundary for both homology scans
	// and the junction flanks.
	span := r.opts.MaxHomologyOffset + r.opts.ReadLength
	w5Start := cand.End5 - span
	if w5Start < 0 {
		w5Start = 0
	}
	w5End := cand.End5 + span
	if w5End > len5 {
		w5End = len5
	}
	seq5, err := r.ref.Get(cand.Tx5, uint64(w5Start), uint64(w5End))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", cand.Tx5)
	}
	w3Start := cand.Start3 - span
	if w3Start < 0 {
		w3Start = 0
	}
	w3End := cand.Start3 + span
	if w3End > len3 {
		w3End = len3
	}
	seq3, err := r.ref.Get(cand.Tx3, uint64(w3Start), uint64(w3End))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", cand.Tx3)
	}
	base5 := func(p int) (byte, bool) {
		if p < w5Start || p >= w5End {
			return 0, false
		}
		return seq5[p-w5Start], true
	}
	base3 := func(p int) (byte, bool) {
		if p < w3Start || p >= w3End {
			return 0, false
		}
		return seq3[p-w3Start], true
	}

	homRight, okR := homologyScan(r.opts.MaxHomologyOffset, r.opts.HomologyMismatches,
		func(i int) (byte, byte, bool) {
			b5, in5 := base5(cand.End5 + i)
			b3, in3 := base3(cand.Start3 + i)
			return b5, b3, in5 && in3
		})
	homLeft, okL := homologyScan(r.opts.MaxHomologyOffset, r.opts.HomologyMismatches,
		func(i int) (byte, byte, bool) {
			b5, in5 := base5(cand.End5 - 1 - i)
			b3, in3 := base3(cand.Start3 - 1 - i)
			return b5, b3, in5 && in3
		})
	lowConfidence := !okR || !okL
	if lowConfidence {
		homLeft, homRight = 0, 0
		stats.LowConfidence++
	}

	// Canonical breakpoint: leftmost transcript position along the homologous
	// stretch.
	end5 := cand.End5 - homLeft
	start3 := cand.Start3 - homLeft

	chrom5, pos5, err := r.idx.GenomePos(cand.Tx5, end5-1)
	if err != nil {
		return nil, errors.Wrapf(err, "map breakpoint of %s", cand.Tx5)
	}
	chrom3, pos3, err := r.idx.GenomePos(cand.Tx3, start3)
	if err != nil {
		return nil, errors.Wrapf(err, "map breakpoint of %s", cand.Tx3)
	}

	flank := r.opts.ReadLength - 1
	f5Start := end5 - flank
	if f5Start < 0 {
		f5Start = 0
	}
	f3End := start3 + flank
	if f3End > len3 {
		f3End = len3
	}
	jseq5, err := r.ref.Get(cand.Tx5, uint64(f5Start), uint64(end5))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch junction flank of %s", cand.Tx5)
	}
	jseq3, err := r.ref.Get(cand.Tx3, uint64(start3), uint64(f3End))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch junction flank of %s", cand.Tx3)
	}

	return &Record{
		Gene5: tx5.Gene, Gene3: tx3.Gene,
		Tx5: cand.Tx5, Tx3: cand.Tx3,
		Cluster5: cand.Cluster5, Cluster3: cand.Cluster3,
		Chrom5: chrom5, Pos5: pos5, Strand5: tx5.Strand,
		Chrom3: chrom3, Pos3: pos3, Strand3: tx3.Strand,
		End5: end5, Start3: start3,
		Homology:        homLeft + homRight,
		LowConfidence:   lowConfidence,
		JunctionSeq:     jseq5 + jseq3,
		JunctionPos:     len(jseq5),
		Frags:           cand.Frags,
		WeightedCov:     cand.WeightedCov,
		MaxInnerDist:    cand.MaxInnerDist,
	}, nil
}

// WriteJunctionMap writes the table mapping each junction reference back to
// its transcript breakpoint, one row per record.
func WriteJunctionMap(w io.Writer, recs []*Record) error {
	tsvw := tsv.NewWriter(w)
	for _, col := range []string{"junction", "junction_pos", "tx5p", "end5p", "tx3p", "start3p", "homology"} {
		tsvw.WriteString(col)
	}
	if err := tsvw.EndLine(); err != nil {
		return errors.Wrap(err, "write junction map header")
	}
	for _, rec := range recs {
		tsvw.WriteString(rec.Name)
		tsvw.WriteString(strconv.Itoa(rec.JunctionPos))
		tsvw.WriteString(rec.Tx5)
		tsvw.WriteString(strconv.Itoa(rec.End5))
		tsvw.WriteString(rec.Tx3)
		tsvw.WriteString(strconv.Itoa(rec.Start3))
		tsvw.WriteString(strconv.Itoa(rec.Homology))
		if err := tsvw.EndLine(); err != nil {
			return errors.Wrap(err, "write junction map")
		}
	}
	return errors.Wrap(tsvw.Flush(), "flush junction map")
}

// WriteJunctionFasta writes the junction reference sequences for the records
// as FASTA, one entry per distinct junction name, in record order.
func WriteJunctionFasta(w io.Writer, recs []*Record) error {
	written := map[string]struct{}{}
	for _, rec := range recs {
		if _, ok := written[rec.Name]; ok {
			continue
		}
		written[rec.Name] = struct{}{}
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", rec.Name, rec.JunctionSeq); err != nil {
			return errors.Wrap(err, "write junction fasta")
		}
	}
	return nil
}
