package chimera

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// SpanningMerger folds junction-realigned reads back into the records they
// support. Reads are realigned against the junction references emitted by
// WriteJunctionFasta; a read counts as spanning evidence when it overlaps the
// breakpoint by at least AnchorMin bases on both sides and stays within the
// anchor-dependent mismatch budget.
type SpanningMerger struct {
	opts   *Opts
	byName map[string][]*Record
	seen   map[spanKey]struct{}
}

type spanKey struct {
	junction string
	read     string
}

// NewSpanningMerger creates a merger over the given resolved records.
func NewSpanningMerger(recs []*Record, opts *Opts) *SpanningMerger {
	m := &SpanningMerger{
		opts:   opts,
		byName: make(map[string][]*Record, len(recs)),
		seen:   map[spanKey]struct{}{},
	}
	for _, rec := range recs {
		m.byName[rec.Name] = append(m.byName[rec.Name], rec)
	}
	return m
}

// Add processes one realigned read. Unmapped and secondary records are
// ignored. A read name is counted at most once per junction. Records aligned
// to a junction reference the merger does not know are an input mismatch and
// fail.
func (m *SpanningMerger) Add(r *sam.Record, stats *Stats) error {
	if r.Flags&(sam.Unmapped|sam.Secondary) != 0 || r.Ref == nil {
		return nil
	}
	junction := r.Ref.Name()
	recs, ok := m.byName[junction]
	if !ok {
		return errors.Wrapf(ErrAlignmentStream, "read %s aligned to unknown junction %s", r.Name, junction)
	}
	// All records of a junction share JunctionPos since they share the
	// sequence.
	jpos := recs[0].JunctionPos
	left := jpos - r.Start()
	right := r.End() - jpos
	anchor := left
	if right < anchor {
		anchor = right
	}
	nm := auxNM(r)
	reject := anchor < m.opts.AnchorMin
	if !reject {
		if anchor < m.opts.AnchorLength {
			// Short anchors must prove they meet the strict budget; a read
			// without an NM tag cannot, and is rejected.
			reject = nm < 0 || nm > m.opts.AnchorMismatches
		} else {
			reject = nm > m.opts.MaxMismatches
		}
	}
	if reject {
		stats.RejectedSpanningReads++
		return nil
	}
	if _, dup := m.seen[spanKey{junction, r.Name}]; dup {
		return nil
	}
	m.seen[spanKey{junction, r.Name}] = struct{}{}
	stats.SpanningReads++
	for _, rec := range recs {
		rec.Spanning++
	}
	return nil
}
