package chimera

// GenePairing is one candidate gene-pair interpretation of a discordant
// fragment: the forward-aligned mate names the 5' partner and the
// reverse-aligned mate the 3' partner.
type GenePairing struct {
	Cluster5, Cluster3 ClusterID
	L5, L3             AlignmentLocus
	// Weight is 1/degree, where degree is the number of distinct cluster
	// pairs this fragment supports. Weights of a fragment's distinct cluster
	// pairs always sum to one.
	Weight float64
}

// Classification is the result of classifying one fragment.
type Classification struct {
	Class DiscordantClass
	// Isize is the observed insert size, set only for concordant fragments.
	Isize int
	// Pairings is set only for ClassDiscordantGene.
	Pairings []GenePairing
}

// Classifier assigns each fragment to exactly one DiscordantClass.
type Classifier struct {
	opts *Opts
	idx  *GeneClusterIndex
}

// NewClassifier creates a Classifier over the given cluster index.
func NewClassifier(idx *GeneClusterIndex, opts *Opts) *Classifier {
	return &Classifier{opts: opts, idx: idx}
}

// Classify assigns the fragment to one class. Class precedence is unmapped,
// complex, concordant, isoform, discordant gene, discordant genome; the first
// matching class wins, so the classes partition all fragments.
func (c *Classifier) Classify(frag *Fragment) Classification {
	if !frag.R1.Mapped() || !frag.R2.Mapped() {
		return Classification{Class: ClassUnmapped}
	}
	loci1, loci2 := frag.R1.Loci, frag.R2.Loci
	if len(loci1) > c.opts.MaxMultimaps || len(loci2) > c.opts.MaxMultimaps ||
		len(loci1)*len(loci2) > c.opts.MaxLocusCombinations {
		if c.opts.ComplexPolicy == ComplexPolicyDrop {
			return Classification{Class: ClassComplex}
		}
		// ComplexPolicyClassify: classify from truncated locus lists.
		if len(loci1) > c.opts.MaxMultimaps {
			loci1 = loci1[:c.opts.MaxMultimaps]
		}
		if len(loci2) > c.opts.MaxMultimaps {
			loci2 = loci2[:c.opts.MaxMultimaps]
		}
	}

	sameCluster := false
	for _, l1 := range loci1 {
		for _, l2 := range loci2 {
			if l1.Tx == l2.Tx {
				if isize, ok := concordantIsize(l1, l2); ok &&
					isize >= c.opts.MinFragmentLength && isize <= c.opts.MaxFragmentLength {
					return Classification{Class: ClassConcordant, Isize: isize}
				}
				sameCluster = true
				continue
			}
			c1, ok1 := c.idx.ClusterOf(l1.Tx)
			c2, ok2 := c.idx.ClusterOf(l2.Tx)
			if ok1 && ok2 && c1 == c2 {
				sameCluster = true
			}
		}
	}
	if sameCluster {
		return Classification{Class: ClassSameGeneIsoform}
	}

	pairings := c.genePairings(loci1, loci2)
	if len(pairings) == 0 {
		return Classification{Class: ClassDiscordantGenome}
	}
	return Classification{Class: ClassDiscordantGene, Pairings: pairings}
}

// concordantIsize reports the insert size of a forward/reverse pair on one
// transcript, requiring the forward mate upstream of the reverse mate.
func concordantIsize(l1, l2 AlignmentLocus) (int, bool) {
	if l1.Reverse == l2.Reverse {
		return 0, false
	}
	fwd, rev := l1, l2
	if fwd.Reverse {
		fwd, rev = l2, l1
	}
	if fwd.Start > rev.Start {
		return 0, false
	}
	return rev.End - fwd.Start, true
}

func (c *Classifier) genePairings(loci1, loci2 []AlignmentLocus) []GenePairing {
	var pairings []GenePairing
	type key struct{ c5, c3 ClusterID }
	degree := map[key]struct{}{}
	for _, l1 := range loci1 {
		for _, l2 := range loci2 {
			if l1.Reverse == l2.Reverse {
				continue
			}
			l5, l3 := l1, l2
			if l5.Reverse {
				l5, l3 = l2, l1
			}
			c5, ok5 := c.idx.ClusterOf(l5.Tx)
			c3, ok3 := c.idx.ClusterOf(l3.Tx)
			if !ok5 || !ok3 || c5 == c3 {
				continue
			}
			degree[key{c5, c3}] = struct{}{}
			pairings = append(pairings, GenePairing{Cluster5: c5, Cluster3: c3, L5: l5, L3: l3})
		}
	}
	if len(pairings) == 0 {
		return nil
	}
	w := 1.0 / float64(len(degree))
	for i := range pairings {
		pairings[i].Weight = w
	}
	return pairings
}
