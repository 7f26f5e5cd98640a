package chimera

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/bio/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// Two 40bp single-exon transcripts on different contigs. Around position 20
// the sequences agree for exactly one base on each side:
//
//	f1: ...A A A A C[A T]G T T T...   (breakpoint window 18..22: C A T G T)
//	g1: ...C C C C G[A T]C C C...     (breakpoint window 18..22: G A T C C)
const (
	resolveSeq5 = "AAAAAAAAAAAAAAAAAACATGTTTTTTTTTTTTTTTTTT"
	resolveSeq3 = "CCCCCCCCCCCCCCCCCCGATCCCCCCCCCCCCCCCCCCC"
)

func resolveTestSetup(t *testing.T) (*GeneClusterIndex, fasta.Fasta) {
	idx, err := NewGeneClusterIndex([]*Transcript{
		mustTranscript(t, "f1", "F", "chr1", Forward, Interval{0, 40}),
		mustTranscript(t, "g1", "G", "chr2", Forward, Interval{0, 40}),
	})
	assert.NoError(t, err)
	ref, err := fasta.New(strings.NewReader(
		">f1\n" + resolveSeq5 + "\n>g1\n" + resolveSeq3 + "\n"))
	assert.NoError(t, err)
	return idx, ref
}

func resolveCandidate(t *testing.T, idx *GeneClusterIndex, end5, start3 int) Candidate {
	c5, ok := idx.ClusterOf("f1")
	assert.True(t, ok)
	c3, ok := idx.ClusterOf("g1")
	assert.True(t, ok)
	return Candidate{
		Tx5: "f1", Tx3: "g1",
		Cluster5: c5, Cluster3: c3,
		End5: end5, Start3: start3,
		Frags: 2, WeightedCov: 2.0, MaxInnerDist: 30,
	}
}

func TestResolveHomology(t *testing.T) {
	opts := DefaultOpts
	opts.HomologyMismatches = 0
	opts.MaxHomologyOffset = 5
	opts.ReadLength = 6
	idx, ref := resolveTestSetup(t)
	r := NewResolver(idx, ref, &opts)

	var stats Stats
	recs, err := r.Resolve([]Candidate{resolveCandidate(t, idx, 20, 20)}, &stats)
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 1)
	rec := recs[0]
	// One matching base on each side of the naive boundary; the canonical
	// breakpoint slides one base left.
	expect.EQ(t, rec.Homology, 2)
	expect.EQ(t, rec.End5, 19)
	expect.EQ(t, rec.Start3, 19)
	expect.False(t, rec.LowConfidence)
	expect.EQ(t, rec.Chrom5, "chr1")
	expect.EQ(t, rec.Pos5, 18)
	expect.EQ(t, rec.Chrom3, "chr2")
	expect.EQ(t, rec.Pos3, 19)
	// Five bases of flank on each side (read length minus one).
	expect.EQ(t, rec.JunctionSeq, resolveSeq5[14:19]+resolveSeq3[19:24])
	expect.EQ(t, rec.JunctionPos, 5)
	expect.EQ(t, rec.Name, "B0000000")
	expect.EQ(t, stats.Records, 1)
}

func TestResolveDeterministic(t *testing.T) {
	opts := DefaultOpts
	opts.HomologyMismatches = 0
	opts.MaxHomologyOffset = 5
	opts.ReadLength = 6
	idx, ref := resolveTestSetup(t)
	r := NewResolver(idx, ref, &opts)
	for i := 0; i < 3; i++ {
		var stats Stats
		recs, err := r.Resolve([]Candidate{resolveCandidate(t, idx, 20, 20)}, &stats)
		assert.NoError(t, err)
		assert.EQ(t, len(recs), 1)
		expect.EQ(t, recs[0].End5, 19)
		expect.EQ(t, recs[0].Homology, 2)
	}
}

func TestResolveLowConfidence(t *testing.T) {
	opts := DefaultOpts
	opts.HomologyMismatches = 2
	opts.MaxHomologyOffset = 5
	opts.ReadLength = 6
	idx, ref := resolveTestSetup(t)
	r := NewResolver(idx, ref, &opts)

	var stats Stats
	// The left scan runs off the transcript start before the mismatch budget
	// bounds it.
	recs, err := r.Resolve([]Candidate{resolveCandidate(t, idx, 1, 20)}, &stats)
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 1)
	rec := recs[0]
	expect.True(t, rec.LowConfidence)
	expect.EQ(t, rec.Homology, 0)
	expect.EQ(t, rec.End5, 1)
	expect.EQ(t, stats.LowConfidence, 1)
}

func TestResolveMergesIsoforms(t *testing.T) {
	opts := DefaultOpts
	opts.HomologyMismatches = 0
	opts.MaxHomologyOffset = 5
	opts.ReadLength = 6
	idx, ref := resolveTestSetup(t)
	r := NewResolver(idx, ref, &opts)

	// Same breakpoint seen through two isoform views: one record with the
	// support summed.
	a := resolveCandidate(t, idx, 20, 20)
	b := resolveCandidate(t, idx, 20, 20)
	b.Frags = 5
	b.WeightedCov = 5.0
	b.MaxInnerDist = 80
	var stats Stats
	recs, err := r.Resolve([]Candidate{a, b}, &stats)
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 1)
	expect.EQ(t, recs[0].Frags, 7)
	expect.EQ(t, recs[0].WeightedCov, 7.0)
	expect.EQ(t, recs[0].MaxInnerDist, 80)
	expect.EQ(t, stats.Candidates, 2)
	expect.EQ(t, stats.Records, 1)
}

func TestResolveUnboundedHomology(t *testing.T) {
	opts := DefaultOpts
	opts.HomologyMismatches = 0
	opts.MaxHomologyOffset = 4
	opts.ReadLength = 6
	const seq = "ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT"
	idx, err := NewGeneClusterIndex([]*Transcript{
		mustTranscript(t, "p1", "P", "chr1", Forward, Interval{0, 40}),
		mustTranscript(t, "q1", "Q", "chr2", Forward, Interval{0, 40}),
	})
	assert.NoError(t, err)
	ref, err := fasta.New(strings.NewReader(">p1\n" + seq + "\n>q1\n" + seq + "\n"))
	assert.NoError(t, err)
	r := NewResolver(idx, ref, &opts)

	c5, ok := idx.ClusterOf("p1")
	assert.True(t, ok)
	c3, ok := idx.ClusterOf("q1")
	assert.True(t, ok)
	cand := Candidate{
		Tx5: "p1", Tx3: "q1",
		Cluster5: c5, Cluster3: c3,
		// The boundary sits exactly one scan window from the transcript
		// start: the identical sequences fill the window in both directions
		// without the mismatch budget ever bounding the scan.
		End5: 4, Start3: 4,
		Frags: 1, WeightedCov: 1.0,
	}
	var stats Stats
	recs, err := r.Resolve([]Candidate{cand}, &stats)
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 1)
	rec := recs[0]
	expect.True(t, rec.LowConfidence)
	expect.EQ(t, rec.Homology, 0)
	// The breakpoint stays at the naive boundary instead of sliding to an
	// unmappable position.
	expect.EQ(t, rec.End5, 4)
	expect.EQ(t, rec.Start3, 4)
	expect.EQ(t, rec.Pos5, 3)
	expect.EQ(t, rec.Pos3, 4)
	expect.EQ(t, stats.LowConfidence, 1)
}

func TestWriteJunctionFasta(t *testing.T) {
	opts := DefaultOpts
	opts.HomologyMismatches = 0
	opts.MaxHomologyOffset = 5
	opts.ReadLength = 6
	idx, ref := resolveTestSetup(t)
	r := NewResolver(idx, ref, &opts)

	// Two candidates with distinct breakpoints produce distinct junction
	// references.
	var stats Stats
	recs, err := r.Resolve([]Candidate{
		resolveCandidate(t, idx, 20, 20),
		resolveCandidate(t, idx, 30, 10),
	}, &stats)
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 2)
	expect.NEQ(t, recs[0].Name, recs[1].Name)

	var buf bytes.Buffer
	assert.NoError(t, WriteJunctionFasta(&buf, recs))
	out := buf.String()
	expect.EQ(t, strings.Count(out, ">"), 2)
	expect.True(t, strings.Contains(out, ">"+recs[0].Name+"\n"+recs[0].JunctionSeq+"\n"))
}

func TestWriteJunctionMap(t *testing.T) {
	rec := &Record{
		Name: "B0000000", JunctionPos: 5,
		Tx5: "f1", End5: 19, Tx3: "g1", Start3: 19, Homology: 2,
	}
	var buf bytes.Buffer
	assert.NoError(t, WriteJunctionMap(&buf, []*Record{rec}))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 2)
	expect.EQ(t, lines[1], "B0000000\t5\tf1\t19\tg1\t19\t2")
}

func TestHomologyScanMismatchBudget(t *testing.T) {
	s5 := "ACGTACGTAC"
	s3 := "ACGAACGAAC" // mismatches at offsets 3 and 7
	at := func(i int) (byte, byte, bool) {
		if i >= len(s5) {
			return 0, 0, false
		}
		return s5[i], s3[i], true
	}
	hom, ok := homologyScan(8, 0, at)
	expect.True(t, ok)
	expect.EQ(t, hom, 3)
	hom, ok = homologyScan(8, 1, at)
	expect.True(t, ok)
	expect.EQ(t, hom, 7)
	// With budget 2 the window is exhausted before the budget bounds the
	// scan: unconverged.
	_, ok = homologyScan(8, 2, at)
	expect.False(t, ok)
	// Running off the sequence is not a bounded scan either.
	_, ok = homologyScan(20, 5, at)
	expect.False(t, ok)
}
