package chimera

// Stats represents high-level statistics of one chimera-calling run.
type Stats struct {
	// Fragments counts the total number of read pairs classified.
	Fragments int
	// ByClass counts fragments per discordance class.
	ByClass [numDiscordantClasses]int
	// Candidates is the number of transcript-pair candidates nominated.
	Candidates int
	// Records is the number of breakpoint records after merging.
	Records int
	// LowConfidence counts records whose homology search did not converge
	// within the configured window.
	LowConfidence int
	// SpanningReads counts realigned reads accepted as spanning evidence.
	SpanningReads int
	// RejectedSpanningReads counts realigned reads rejected by the anchor
	// rules.
	RejectedSpanningReads int
	// Rejected counts filtered records per rejection reason.
	Rejected [numReasons]int
	// SyntheticIsize is true when too few concordant pairs were sampled and
	// the synthetic insert size distribution was used instead.
	SyntheticIsize bool
}

// Merge adds the field values of the two Stats objects and creates new Stats.
func (s Stats) Merge(o Stats) Stats {
	s.Fragments += o.Fragments
	for i, n := range o.ByClass {
		s.ByClass[i] += n
	}
	s.Candidates += o.Candidates
	s.Records += o.Records
	s.LowConfidence += o.LowConfidence
	s.SpanningReads += o.SpanningReads
	s.RejectedSpanningReads += o.RejectedSpanningReads
	for i, n := range o.Rejected {
		s.Rejected[i] += n
	}
	s.SyntheticIsize = s.SyntheticIsize || o.SyntheticIsize
	return s
}
