package chimera

import (
	"bufio"
	"context"
	"io"
	"sort"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// Reason says why the filter rejected a record.
type Reason int

const (
	// ReasonWeightedCov rejects records below the weighted coverage floor.
	ReasonWeightedCov Reason = iota
	// ReasonInnerDist rejects records whose supporting fragments leave an
	// unspanned gap beyond the configured insert size percentile.
	ReasonInnerDist
	// ReasonBlacklisted rejects records matching a known false positive.
	ReasonBlacklisted

	numReasons
)

var reasonNames = [numReasons]string{"weighted_cov", "inner_dist", "blacklisted"}

func (r Reason) String() string {
	if r < 0 || r >= numReasons {
		return "invalid"
	}
	return reasonNames[r]
}

// Blacklist is a set of known false-positive breakpoints keyed by transcript
// pair and transcript-space breakpoint.
type Blacklist map[blacklistKey]struct{}

type blacklistKey struct {
	tx5    string
	end5   int
	tx3    string
	start3 int
}

// Contains reports whether the record's breakpoint is blacklisted.
func (b Blacklist) Contains(rec *Record) bool {
	_, ok := b[blacklistKey{rec.Tx5, rec.End5, rec.Tx3, rec.Start3}]
	return ok
}

type blacklistRow struct {
	Tx5    string
	End5   int
	Tx3    string
	Start3 int
}

// ReadBlacklist reads a four-column breakpoint blacklist (tx5, end5, tx3,
// start3; positions transcript-space, 0-based). The file may be gzip
// compressed.
func ReadBlacklist(ctx context.Context, path string) (Blacklist, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var inr io.Reader = in.Reader(ctx)
	if u, _ := compress.NewReaderPath(inr, in.Name()); u != nil {
		inr = u
	}
	r := tsv.NewReader(bufio.NewReader(inr))
	r.Comment = '#'
	bl := Blacklist{}
	for {
		var row blacklistRow
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "read blacklist %s", path)
		}
		bl[blacklistKey{row.Tx5, row.End5, row.Tx3, row.Start3}] = struct{}{}
	}
	if err := in.Close(ctx); err != nil {
		return nil, errors.Wrapf(err, "close %s", path)
	}
	log.Printf("Read %d blacklisted breakpoints from %s", len(bl), path)
	return bl, nil
}

// Filter applies the final acceptance predicates and collapses isoform
// duplicates.
type Filter struct {
	opts      *Opts
	isize     *InsertSizeDistribution
	blacklist Blacklist
}

// NewFilter creates a Filter. blacklist may be nil.
func NewFilter(isize *InsertSizeDistribution, blacklist Blacklist, opts *Opts) *Filter {
	return &Filter{opts: opts, isize: isize, blacklist: blacklist}
}

func (f *Filter) reject(rec *Record, isizeMax float64) (Reason, bool) {
	minCov := f.opts.MinWeightedCov
	if rec.Spanning > 0 {
		minCov = f.opts.MinWeightedCovSpanning
	}
	if rec.WeightedCov < minCov {
		return ReasonWeightedCov, true
	}
	if float64(rec.MaxInnerDist) > isizeMax {
		return ReasonInnerDist, true
	}
	if f.blacklist.Contains(rec) {
		return ReasonBlacklisted, true
	}
	return 0, false
}

// Apply filters recs and returns the accepted records with isoform
// duplicates collapsed, ordered by genome coordinate. Rejections are tallied
// in stats by reason.
func (f *Filter) Apply(recs []*Record, stats *Stats) []*Record {
	isizeMax := f.isize.Percentile(f.opts.IsizePercentile)
	kept := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if reason, drop := f.reject(rec, isizeMax); drop {
			stats.Rejected[reason]++
			continue
		}
		kept = append(kept, rec)
	}
	return CollapseIsoforms(kept)
}

// CollapseIsoforms reduces records sharing a gene cluster pair and genome
// breakpoint to the single best-supported one, ranked by spanning reads, then
// weighted coverage, then raw fragments. The operation is idempotent.
func CollapseIsoforms(recs []*Record) []*Record {
	type key struct {
		c5, c3 ClusterID
		chrom5 string
		pos5   int
		chrom3 string
		pos3   int
	}
	best := map[key]*Record{}
	for _, rec := range recs {
		k := key{rec.Cluster5, rec.Cluster3, rec.Chrom5, rec.Pos5, rec.Chrom3, rec.Pos3}
		prev := best[k]
		if prev == nil || betterSupported(rec, prev) {
			best[k] = rec
		}
	}
	out := make([]*Record, 0, len(best))
	for _, rec := range best {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

func betterSupported(a, b *Record) bool {
	switch {
	case a.Spanning != b.Spanning:
		return a.Spanning > b.Spanning
	case a.WeightedCov != b.WeightedCov:
		return a.WeightedCov > b.WeightedCov
	}
	return a.Frags > b.Frags
}
