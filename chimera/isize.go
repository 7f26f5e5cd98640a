package chimera

import (
	"math"

	"github.com/grailbio/base/log"
)

// InsertSizeDistribution is a histogram of concordant-fragment insert sizes
// over the configured fragment length range. It backs both the
// inner-distance predicate of the filter and reporting.
type InsertSizeDistribution struct {
	min, max   int
	counts     []int64
	n          int64
	maxSamples int64
	synthetic  bool
}

// NewInsertSizeDistribution creates an empty distribution over
// [opts.MinFragmentLength, opts.MaxFragmentLength].
func NewInsertSizeDistribution(opts *Opts) *InsertSizeDistribution {
	return &InsertSizeDistribution{
		min:        opts.MinFragmentLength,
		max:        opts.MaxFragmentLength,
		counts:     make([]int64, opts.MaxFragmentLength-opts.MinFragmentLength+1),
		maxSamples: int64(opts.MaxIsizeSamples),
	}
}

// NewSyntheticInsertSizeDistribution creates a distribution holding a
// discretized normal(opts.IsizeMean, opts.IsizeStd) over the configured
// range, for runs with too few concordant pairs to sample.
func NewSyntheticInsertSizeDistribution(opts *Opts) *InsertSizeDistribution {
	d := NewInsertSizeDistribution(opts)
	const scale = 1e6
	for i := range d.counts {
		z := (float64(d.min+i) - opts.IsizeMean) / opts.IsizeStd
		c := int64(math.Exp(-0.5*z*z) * scale)
		d.counts[i] = c
		d.n += c
	}
	d.synthetic = true
	return d
}

// Add records one observed insert size. Sizes outside the configured range,
// and observations past the sample cap, are dropped.
func (d *InsertSizeDistribution) Add(isize int) {
	if isize < d.min || isize > d.max || d.n >= d.maxSamples {
		return
	}
	d.counts[isize-d.min]++
	d.n++
}

// N returns the number of recorded samples.
func (d *InsertSizeDistribution) N() int64 { return d.n }

// Synthetic reports whether the distribution was replaced by a parametric
// fallback for lack of samples.
func (d *InsertSizeDistribution) Synthetic() bool { return d.synthetic }

// Mean returns the sample mean.
func (d *InsertSizeDistribution) Mean() float64 {
	if d.n == 0 {
		return 0
	}
	var sum float64
	for i, c := range d.counts {
		sum += float64(d.min+i) * float64(c)
	}
	return sum / float64(d.n)
}

// Std returns the sample standard deviation.
func (d *InsertSizeDistribution) Std() float64 {
	if d.n < 2 {
		return 0
	}
	mean := d.Mean()
	var ss float64
	for i, c := range d.counts {
		dev := float64(d.min+i) - mean
		ss += dev * dev * float64(c)
	}
	return math.Sqrt(ss / float64(d.n-1))
}

// Mode returns the most frequent insert size, the smallest on ties.
func (d *InsertSizeDistribution) Mode() int {
	best, bestCount := d.min, int64(-1)
	for i, c := range d.counts {
		if c > bestCount {
			best, bestCount = d.min+i, c
		}
	}
	return best
}

// Percentile returns the insert size at percentile p (in percent), linearly
// interpolated over the cumulative histogram. With no samples it returns the
// range maximum.
func (d *InsertSizeDistribution) Percentile(p float64) float64 {
	if d.n == 0 {
		return float64(d.max)
	}
	rank := p / 100.0 * float64(d.n-1)
	if rank < 0 {
		rank = 0
	}
	lo := int64(rank)
	frac := rank - float64(lo)
	v := d.valueAt(lo)
	if frac == 0 || lo+1 >= d.n {
		return float64(v)
	}
	return float64(v) + frac*float64(d.valueAt(lo+1)-v)
}

// valueAt returns the k'th smallest recorded insert size, 0-based.
func (d *InsertSizeDistribution) valueAt(k int64) int {
	var cum int64
	for i, c := range d.counts {
		cum += c
		if cum > k {
			return d.min + i
		}
	}
	return d.max
}

// EnsureInsertSize replaces an undersampled empirical distribution with a
// discretized normal built from opts.IsizeMean and opts.IsizeStd. Returns
// true when the fallback was applied.
func (d *InsertSizeDistribution) EnsureInsertSize(opts *Opts) bool {
	if d.n >= int64(opts.MinIsizeSamples) {
		return false
	}
	log.Printf("Only %d insert size samples (want >=%d), falling back to normal(%v, %v)",
		d.n, opts.MinIsizeSamples, opts.IsizeMean, opts.IsizeStd)
	*d = *NewSyntheticInsertSizeDistribution(opts)
	return true
}
