package chimera

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestWriteRecords(t *testing.T) {
	rec := &Record{
		Name:  "B0000000",
		Gene5: "F", Gene3: "G",
		Tx5: "f1", Tx3: "g1",
		Chrom5: "chr1", Pos5: 99, Strand5: Forward,
		Chrom3: "chr2", Pos3: 199, Strand3: Reverse,
		End5: 20, Start3: 30,
		Homology: 2, JunctionSeq: "ACGTACGT", JunctionPos: 4,
		Frags: 10, WeightedCov: 8.5, Spanning: 3, MaxInnerDist: 321,
	}
	var buf bytes.Buffer
	assert.NoError(t, WriteRecords(&buf, []*Record{rec}))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 2)
	expect.EQ(t, lines[0], strings.Join(recordColumns, "\t"))
	expect.EQ(t, lines[1], strings.Join([]string{
		"chr1", "100", "+", "chr2", "200", "-",
		"F", "G", "f1", "g1",
		"B0000000", "4", "2",
		"10", "8.5", "3", "321", "false", "ACGTACGT",
	}, "\t"))
}

func TestFragmentFromRecordsRejectsUnflaggedRead(t *testing.T) {
	ref, err := sam.NewReference("a1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	rec := &sam.Record{
		Name:  "q1",
		Ref:   ref,
		Pos:   10,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 50)},
	}
	_, err = FragmentFromRecords([]*sam.Record{rec})
	expect.True(t, IsAlignmentStream(err))
}

func TestAuxNM(t *testing.T) {
	ref, err := sam.NewReference("a1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	rec := &sam.Record{
		Name:  "q1",
		Ref:   ref,
		Pos:   10,
		Flags: sam.Paired | sam.Read1,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 50)},
	}
	expect.EQ(t, auxNM(rec), -1)
	aux, err := sam.NewAux(nmTag, 2)
	assert.NoError(t, err)
	rec.AuxFields = sam.AuxFields{aux}
	expect.EQ(t, auxNM(rec), 2)
}
