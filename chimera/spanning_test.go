package chimera

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func junctionRead(t *testing.T, name string, ref *sam.Reference, pos, length, nm int) *sam.Record {
	aux, err := sam.NewAux(nmTag, nm)
	assert.NoError(t, err)
	return &sam.Record{
		Name:      name,
		Ref:       ref,
		Pos:       pos,
		Cigar:     sam.Cigar{sam.NewCigarOp(sam.CigarMatch, length)},
		AuxFields: sam.AuxFields{aux},
	}
}

// One 40bp junction reference with the breakpoint at offset 20.
func spanningSetup(t *testing.T) (*SpanningMerger, *Record, *sam.Reference, *Opts) {
	opts := DefaultOpts // AnchorMin 4, AnchorLength 8, AnchorMismatches 0, MaxMismatches 2
	rec := &Record{Name: "B0000000", JunctionPos: 20}
	ref, err := sam.NewReference("B0000000", "", "", 40, nil, nil)
	assert.NoError(t, err)
	return NewSpanningMerger([]*Record{rec}, &opts), rec, ref, &opts
}

func TestSpanningAnchorRules(t *testing.T) {
	m, rec, ref, _ := spanningSetup(t)
	var stats Stats

	// 3bp anchor: below AnchorMin, rejected.
	assert.NoError(t, m.Add(junctionRead(t, "short", ref, 17, 23, 0), &stats))
	expect.EQ(t, rec.Spanning, 0)
	expect.EQ(t, stats.RejectedSpanningReads, 1)

	// 6bp anchor with one mismatch: short anchors tolerate none, rejected.
	assert.NoError(t, m.Add(junctionRead(t, "shortmm", ref, 14, 26, 1), &stats))
	expect.EQ(t, rec.Spanning, 0)
	expect.EQ(t, stats.RejectedSpanningReads, 2)

	// 6bp anchor with no mismatches: accepted.
	assert.NoError(t, m.Add(junctionRead(t, "shortclean", ref, 14, 26, 0), &stats))
	expect.EQ(t, rec.Spanning, 1)

	// 10bp anchor with one mismatch: long anchors get the global budget,
	// accepted.
	assert.NoError(t, m.Add(junctionRead(t, "longmm", ref, 10, 30, 1), &stats))
	expect.EQ(t, rec.Spanning, 2)

	// 10bp anchor over budget: rejected.
	assert.NoError(t, m.Add(junctionRead(t, "overmm", ref, 10, 30, 3), &stats))
	expect.EQ(t, rec.Spanning, 2)
	expect.EQ(t, stats.SpanningReads, 2)
	expect.EQ(t, stats.RejectedSpanningReads, 3)
}

func TestSpanningMissingNM(t *testing.T) {
	m, rec, ref, _ := spanningSetup(t)
	var stats Stats

	noNM := func(name string, pos, length int) *sam.Record {
		return &sam.Record{
			Name:  name,
			Ref:   ref,
			Pos:   pos,
			Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, length)},
		}
	}
	// Without an NM tag a 6bp anchor cannot prove it meets the strict budget:
	// rejected.
	assert.NoError(t, m.Add(noNM("shortnonm", 14, 26), &stats))
	expect.EQ(t, rec.Spanning, 0)
	expect.EQ(t, stats.RejectedSpanningReads, 1)

	// A 10bp anchor is under the global budget and stays accepted without
	// the tag.
	assert.NoError(t, m.Add(noNM("longnonm", 10, 30), &stats))
	expect.EQ(t, rec.Spanning, 1)
}

func TestSpanningReadCountedOnce(t *testing.T) {
	m, rec, ref, _ := spanningSetup(t)
	var stats Stats
	assert.NoError(t, m.Add(junctionRead(t, "dup", ref, 10, 30, 0), &stats))
	assert.NoError(t, m.Add(junctionRead(t, "dup", ref, 11, 29, 0), &stats))
	expect.EQ(t, rec.Spanning, 1)
	expect.EQ(t, stats.SpanningReads, 1)
}

func TestSpanningSkipsUnmappedAndSecondary(t *testing.T) {
	m, rec, ref, _ := spanningSetup(t)
	var stats Stats
	r := junctionRead(t, "u", ref, 10, 30, 0)
	r.Flags |= sam.Unmapped
	assert.NoError(t, m.Add(r, &stats))
	r = junctionRead(t, "s", ref, 10, 30, 0)
	r.Flags |= sam.Secondary
	assert.NoError(t, m.Add(r, &stats))
	expect.EQ(t, rec.Spanning, 0)
	expect.EQ(t, stats.SpanningReads, 0)
	expect.EQ(t, stats.RejectedSpanningReads, 0)
}

func TestSpanningUnknownJunction(t *testing.T) {
	m, _, _, _ := spanningSetup(t)
	var stats Stats
	other, err := sam.NewReference("B9999999", "", "", 40, nil, nil)
	assert.NoError(t, err)
	err = m.Add(junctionRead(t, "x", other, 10, 30, 0), &stats)
	expect.True(t, IsAlignmentStream(err))
}

func TestSpanningSharedJunction(t *testing.T) {
	// Two records sharing a junction sequence both receive the evidence.
	opts := DefaultOpts
	a := &Record{Name: "B0000000", JunctionPos: 20}
	b := &Record{Name: "B0000000", JunctionPos: 20}
	m := NewSpanningMerger([]*Record{a, b}, &opts)
	ref, err := sam.NewReference("B0000000", "", "", 40, nil, nil)
	assert.NoError(t, err)
	var stats Stats
	assert.NoError(t, m.Add(junctionRead(t, "r", ref, 10, 30, 0), &stats))
	expect.EQ(t, a.Spanning, 1)
	expect.EQ(t, b.Spanning, 1)
	expect.EQ(t, stats.SpanningReads, 1)
}
