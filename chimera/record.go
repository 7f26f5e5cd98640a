package chimera

import (
	"io"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// Record is one breakpoint-resolved chimera call.
type Record struct {
	// Name is the junction reference name, assigned by the Resolver. Records
	// with identical junction sequence share a name.
	Name string

	Gene5, Gene3       string
	Tx5, Tx3           string
	Cluster5, Cluster3 ClusterID

	// Genome coordinates of the last 5' base and the first 3' base.
	Chrom5  string
	Pos5    int
	Strand5 Strand
	Chrom3  string
	Pos3    int
	Strand3 Strand

	// Resolved transcript-space breakpoint, leftmost equivalent position.
	End5, Start3 int

	// Homology is the length of the sequence stretch over which the
	// breakpoint can slide without changing the fused product.
	Homology int
	// LowConfidence marks records whose homology scan ran off a transcript
	// end or exhausted the scan window before the mismatch budget bounded
	// it. Such records carry homology length 0.
	LowConfidence bool

	// JunctionSeq is the junction-flanking reference sequence, JunctionPos
	// the breakpoint offset within it.
	JunctionSeq string
	JunctionPos int

	Frags        int
	WeightedCov  float64
	Spanning     int
	MaxInnerDist int
}

func (r *Record) less(o *Record) bool {
	switch {
	case r.Chrom5 != o.Chrom5:
		return r.Chrom5 < o.Chrom5
	case r.Pos5 != o.Pos5:
		return r.Pos5 < o.Pos5
	case r.Chrom3 != o.Chrom3:
		return r.Chrom3 < o.Chrom3
	case r.Pos3 != o.Pos3:
		return r.Pos3 < o.Pos3
	case r.Tx5 != o.Tx5:
		return r.Tx5 < o.Tx5
	}
	return r.Tx3 < o.Tx3
}

var recordColumns = []string{
	"chrom5p", "pos5p", "strand5p",
	"chrom3p", "pos3p", "strand3p",
	"gene5p", "gene3p", "tx5p", "tx3p",
	"junction", "junction_pos", "homology",
	"frags", "weighted_frags", "spanning_frags",
	"inner_dist", "low_confidence", "junction_seq",
}

// WriteRecords writes the records as headered TSV. Positions are written
// 1-based, the convention for our text outputs.
func WriteRecords(w io.Writer, recs []*Record) error {
	tsvw := tsv.NewWriter(w)
	for _, col := range recordColumns {
		tsvw.WriteString(col)
	}
	if err := tsvw.EndLine(); err != nil {
		return errors.Wrap(err, "write record header")
	}
	for _, rec := range recs {
		tsvw.WriteString(rec.Chrom5)
		tsvw.WriteUint32(uint32(rec.Pos5 + 1))
		tsvw.WriteString(rec.Strand5.String())
		tsvw.WriteString(rec.Chrom3)
		tsvw.WriteUint32(uint32(rec.Pos3 + 1))
		tsvw.WriteString(rec.Strand3.String())
		tsvw.WriteString(rec.Gene5)
		tsvw.WriteString(rec.Gene3)
		tsvw.WriteString(rec.Tx5)
		tsvw.WriteString(rec.Tx3)
		tsvw.WriteString(rec.Name)
		tsvw.WriteString(strconv.Itoa(rec.JunctionPos))
		tsvw.WriteString(strconv.Itoa(rec.Homology))
		tsvw.WriteString(strconv.Itoa(rec.Frags))
		tsvw.WriteString(strconv.FormatFloat(rec.WeightedCov, 'g', -1, 64))
		tsvw.WriteString(strconv.Itoa(rec.Spanning))
		tsvw.WriteString(strconv.Itoa(rec.MaxInnerDist))
		tsvw.WriteString(strconv.FormatBool(rec.LowConfidence))
		tsvw.WriteString(rec.JunctionSeq)
		if err := tsvw.EndLine(); err != nil {
			return errors.Wrap(err, "write record")
		}
	}
	return errors.Wrap(tsvw.Flush(), "flush records")
}
