package chimera

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// DiscordantClass is the outcome of classifying one read pair against the
// transcriptome.
type DiscordantClass int

const (
	// ClassConcordant pairs align to a single transcript in the expected
	// orientation with an insert size inside the configured range.
	ClassConcordant DiscordantClass = iota
	// ClassSameGeneIsoform pairs hit the same gene cluster but no single
	// transcript explains them concordantly.
	ClassSameGeneIsoform
	// ClassDiscordantGene pairs connect two distinct gene clusters. Only this
	// class feeds chimera nomination.
	ClassDiscordantGene
	// ClassDiscordantGenome pairs have no transcript pairing at all.
	ClassDiscordantGenome
	// ClassComplex pairs have too many locus combinations to enumerate.
	ClassComplex
	// ClassUnmapped pairs have at least one mate with no alignment.
	ClassUnmapped

	numDiscordantClasses
)

var classNames = [numDiscordantClasses]string{
	"concordant",
	"isoform",
	"discordant_gene",
	"discordant_genome",
	"complex",
	"unmapped",
}

func (c DiscordantClass) String() string {
	if c < 0 || c >= numDiscordantClasses {
		return "invalid"
	}
	return classNames[c]
}

// AlignmentLocus is one alignment of one mate, in transcript coordinates.
type AlignmentLocus struct {
	Tx string
	// [Start, End) in transcript space.
	Start, End int
	// Reverse is set when the read aligned to the reverse complement of the
	// transcript.
	Reverse bool
	// NM is the edit distance reported by the aligner, -1 when absent.
	NM int
}

// Mate holds every reported alignment of one mate of a pair.
type Mate struct {
	Loci []AlignmentLocus
}

// Mapped reports whether the mate has at least one alignment.
func (m *Mate) Mapped() bool { return len(m.Loci) > 0 }

// Fragment is one read pair with all reported alignments of both mates.
type Fragment struct {
	Name   string
	R1, R2 Mate
}

var nmTag = sam.NewTag("NM")

func auxNM(r *sam.Record) int {
	aux := r.AuxFields.Get(nmTag)
	if aux == nil {
		return -1
	}
	switch v := aux.Value().(type) {
	case int:
		return v
	case int8:
		return int(v)
	case uint8:
		return int(v)
	case int16:
		return int(v)
	case uint16:
		return int(v)
	case int32:
		return int(v)
	case uint32:
		return int(v)
	}
	return -1
}

// FragmentFromRecords assembles one Fragment from the alignment records of a
// single read name.
//
// REQUIRES: recs is nonempty and contains every record for the name, both
// primary and secondary.
func FragmentFromRecords(recs []*sam.Record) (Fragment, error) {
	frag := Fragment{Name: recs[0].Name}
	for _, r := range recs {
		if r.Name != frag.Name {
			return Fragment{}, errors.Wrapf(ErrAlignmentStream,
				"record %s interleaved with %s", r.Name, frag.Name)
		}
		mate := &frag.R1
		switch {
		case r.Flags&sam.Read1 != 0:
		case r.Flags&sam.Read2 != 0:
			mate = &frag.R2
		default:
			return Fragment{}, errors.Wrapf(ErrAlignmentStream,
				"record %s is neither read1 nor read2", r.Name)
		}
		if r.Flags&sam.Unmapped != 0 || r.Ref == nil {
			continue
		}
		mate.Loci = append(mate.Loci, AlignmentLocus{
			Tx:      r.Ref.Name(),
			Start:   r.Start(),
			End:     r.End(),
			Reverse: r.Flags&sam.Reverse != 0,
			NM:      auxNM(r),
		})
	}
	return frag, nil
}
