package chimera

// ComplexPolicy selects how fragments whose locus cross product exceeds
// Opts.MaxLocusCombinations are handled. Observed pipeline revisions disagree
// (dropped outright vs. classified from truncated locus lists), so the choice
// is left to the caller.
type ComplexPolicy int

const (
	// ComplexPolicyDrop excludes complex fragments from fusion calling.
	ComplexPolicyDrop ComplexPolicy = iota
	// ComplexPolicyClassify truncates each mate's locus list to MaxMultimaps
	// entries and classifies from the truncated lists. The fragment takes the
	// resulting class, is partitioned and counted under it, and its candidate
	// seeds survive.
	ComplexPolicyClassify
)

type Opts struct {
	// MinFragmentLength and MaxFragmentLength bound the implied insert size of
	// a concordant pair. Pairs implying a larger insert are discordant.
	MinFragmentLength int
	MaxFragmentLength int

	// MaxMultimaps caps the number of alignment loci considered per mate.
	MaxMultimaps int

	// MaxLocusCombinations bounds the mate1 x mate2 cross product. Fragments
	// exceeding it are classified Complex and handled per ComplexPolicy.
	MaxLocusCombinations int
	ComplexPolicy        ComplexPolicy

	// ExonJunctionTrim is the number of bases around an exon-exon junction
	// within which a boundary-implicating coordinate is snapped to the
	// junction. This avoids spurious boundary spread from splice-adjacent
	// alignments.
	ExonJunctionTrim int

	// HomologyMismatches is the max cumulative mismatch count tolerated while
	// extending the breakpoint homology search.
	HomologyMismatches int
	// MaxHomologyOffset is the max distance, in bases, the homology search
	// scans away from the naive boundary in either direction.
	MaxHomologyOffset int

	// ReadLength scales the junction-flanking reference sequences handed to
	// the external aligner: each flank is ReadLength-1 bases.
	ReadLength int

	// AnchorMin is the minimum both-side junction overlap for a realigned
	// read to count as spanning evidence.
	AnchorMin int
	// AnchorLength is the junction overlap below which the stricter
	// AnchorMismatches budget applies instead of MaxMismatches. Short anchors
	// are mismatch-intolerant to suppress soft-clip artifacts.
	AnchorLength     int
	AnchorMismatches int
	// MaxMismatches is the global per-read mismatch budget.
	MaxMismatches int

	// MinIsizeSamples is the sample count below which the empirical insert
	// size distribution is replaced by a synthetic one built from IsizeMean
	// and IsizeStd.
	MinIsizeSamples int
	// MaxIsizeSamples bounds the number of concordant pairs sampled.
	MaxIsizeSamples int
	IsizeMean       float64
	IsizeStd        float64
	// IsizePercentile is the insert size distribution percentile used as the
	// inner-distance cutoff in the filter stage.
	IsizePercentile float64

	// MinWeightedCov is the weighted coverage threshold for records without
	// spanning reads. MinWeightedCovSpanning, a lower bar, applies as soon as
	// one spanning read is present.
	MinWeightedCov         float64
	MinWeightedCovSpanning float64
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	MinFragmentLength:      0,    // --min-fragment-length
	MaxFragmentLength:      1000, // --max-fragment-length
	MaxMultimaps:           100,  // --multihits
	MaxLocusCombinations:   64,   // no flag in the reference pipeline
	ComplexPolicy:          ComplexPolicyDrop,
	ExonJunctionTrim:       10, // fixed in the reference pipeline
	HomologyMismatches:     2,  // --homology-mismatches
	MaxHomologyOffset:      100,
	ReadLength:             50,
	AnchorMin:              4, // --anchor-min
	AnchorLength:           8, // --anchor-length
	AnchorMismatches:       0, // --anchor-mismatches
	MaxMismatches:          2, // --mismatches
	MinIsizeSamples:        100,
	MaxIsizeSamples:        1000000,
	IsizeMean:              200,
	IsizeStd:               20,
	IsizePercentile:        99.9, // --filter-isize-prob
	MinWeightedCov:         3.0,  // --unique-frags
	MinWeightedCovSpanning: 1.5,
}
