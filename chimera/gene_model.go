package chimera

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/biogo/store/interval"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// Strand is the genomic strand of a transcript or an alignment locus.
type Strand int8

const (
	// Forward is the plus strand.
	Forward Strand = 1
	// Reverse is the minus strand.
	Reverse Strand = -1
)

// ParseStrand parses "+" or "-".
func ParseStrand(s string) (Strand, error) {
	switch s {
	case "+":
		return Forward, nil
	case "-":
		return Reverse, nil
	}
	return 0, errors.Wrapf(ErrMalformedAnnotation, "invalid strand %q", s)
}

func (s Strand) String() string {
	if s == Reverse {
		return "-"
	}
	return "+"
}

// Interval is a half-open genomic interval [Start, End).
type Interval struct{ Start, End int }

// Len returns the interval span.
func (i Interval) Len() int { return i.End - i.Start }

// Transcript is one annotated transcript: an ordered set of exon intervals on
// a contig plus the cumulative transcript-space offset of each exon, which
// enables transcript<->genome coordinate conversion.
type Transcript struct {
	ID     string
	Gene   string
	Chrom  string
	Strand Strand
	// Exons are in ascending genomic order regardless of strand.
	Exons []Interval

	// offsets[i] is the transcript-space offset of Exons[i] in genomic
	// orientation. For minus-strand transcripts positions are mirrored before
	// lookup.
	offsets []int
	length  int
}

// NewTranscript validates the exon structure and builds the offset table.
func NewTranscript(id, gene, chrom string, strand Strand, exons []Interval) (*Transcript, error) {
	if id == "" || len(exons) == 0 {
		return nil, errors.Wrapf(ErrMalformedAnnotation, "transcript %q: no exons", id)
	}
	t := &Transcript{
		ID:      id,
		Gene:    gene,
		Chrom:   chrom,
		Strand:  strand,
		Exons:   exons,
		offsets: make([]int, len(exons)),
	}
	off := 0
	for i, e := range exons {
		if e.Start < 0 || e.End <= e.Start {
			return nil, errors.Wrapf(ErrMalformedAnnotation,
				"transcript %s: exon %d [%d,%d) is empty or inverted", id, i, e.Start, e.End)
		}
		if i > 0 && e.Start < exons[i-1].End {
			return nil, errors.Wrapf(ErrMalformedAnnotation,
				"transcript %s: exon %d overlaps or precedes exon %d", id, i, i-1)
		}
		t.offsets[i] = off
		off += e.Len()
	}
	t.length = off
	return t, nil
}

// Length returns the spliced transcript length.
func (t *Transcript) Length() int { return t.length }

// GenomePos converts a transcript-space base position (0-based, 5'->3' along
// the transcript) to a genome-space position. Minus-strand transcripts count
// from the 3' genomic end.
func (t *Transcript) GenomePos(pos int) (int, error) {
	if pos < 0 || pos >= t.length {
		return 0, errors.Wrapf(ErrOutOfRange, "transcript %s: position %d (length %d)", t.ID, pos, t.length)
	}
	p := pos
	if t.Strand == Reverse {
		p = t.length - 1 - pos
	}
	i := sort.Search(len(t.offsets), func(i int) bool { return t.offsets[i] > p }) - 1
	return t.Exons[i].Start + (p - t.offsets[i]), nil
}

// JunctionOffsets returns the transcript-space positions of the exon-exon
// junctions, ascending in transcript orientation. A transcript with n exons
// has n-1 junctions.
func (t *Transcript) JunctionOffsets() []int {
	if len(t.Exons) < 2 {
		return nil
	}
	jn := make([]int, 0, len(t.Exons)-1)
	for _, off := range t.offsets[1:] {
		if t.Strand == Reverse {
			jn = append(jn, t.length-off)
		} else {
			jn = append(jn, off)
		}
	}
	if t.Strand == Reverse {
		sort.Ints(jn)
	}
	return jn
}

// ClusterID identifies one gene cluster: a set of transcripts whose genomic
// exon intervals overlap, treated as isoforms of a single locus.
type ClusterID int32

const invalidClusterID = ClusterID(-1)

// GeneClusterIndex maps transcripts to clusters and to genome coordinates. It
// is built once per run and read-only afterwards, so later stages share it
// without locking.
type GeneClusterIndex struct {
	txs      map[string]*Transcript
	ordered  []*Transcript
	clusters []ClusterID // indexed by position in ordered
	byID     map[string]int
	n        int
}

type exonInterval struct {
	start, end int
	id         uintptr
	tx         int32
}

func (e exonInterval) Overlap(b interval.IntRange) bool { return e.end > b.Start && e.start < b.End }
func (e exonInterval) ID() uintptr                      { return e.id }
func (e exonInterval) Range() interval.IntRange         { return interval.IntRange{Start: e.start, End: e.end} }

// NewGeneClusterIndex builds the cluster index from a transcript set.
// Transcripts are clustered when their genomic exons overlap, regardless of
// strand.
func NewGeneClusterIndex(txs []*Transcript) (*GeneClusterIndex, error) {
	idx := &GeneClusterIndex{
		txs:  make(map[string]*Transcript, len(txs)),
		byID: make(map[string]int, len(txs)),
	}
	for i, tx := range txs {
		if _, ok := idx.txs[tx.ID]; ok {
			return nil, errors.Wrapf(ErrMalformedAnnotation, "duplicate transcript %s", tx.ID)
		}
		idx.txs[tx.ID] = tx
		idx.byID[tx.ID] = i
		idx.ordered = append(idx.ordered, tx)
	}

	trees := map[string]*interval.IntTree{}
	var nIv uintptr
	for ti, tx := range idx.ordered {
		tree := trees[tx.Chrom]
		if tree == nil {
			tree = &interval.IntTree{}
			trees[tx.Chrom] = tree
		}
		for _, e := range tx.Exons {
			iv := exonInterval{start: e.Start, end: e.End, id: nIv, tx: int32(ti)}
			nIv++
			if err := tree.Insert(iv, true); err != nil {
				return nil, errors.Wrapf(err, "index exons of %s", tx.ID)
			}
		}
	}
	for _, tree := range trees {
		tree.AdjustRanges()
	}

	u := newUnionFind(len(idx.ordered))
	for ti, tx := range idx.ordered {
		tree := trees[tx.Chrom]
		for _, e := range tx.Exons {
			q := exonInterval{start: e.Start, end: e.End}
			tree.DoMatching(func(iv interval.IntInterface) (done bool) {
				u.union(ti, int(iv.(exonInterval).tx))
				return
			}, q)
		}
	}

	// Assign dense cluster IDs in first-seen transcript order.
	idx.clusters = make([]ClusterID, len(idx.ordered))
	assigned := map[int]ClusterID{}
	for ti := range idx.ordered {
		root := u.find(ti)
		id, ok := assigned[root]
		if !ok {
			id = ClusterID(idx.n)
			assigned[root] = id
			idx.n++
		}
		idx.clusters[ti] = id
	}
	log.Printf("Clustered %d transcripts into %d loci", len(idx.ordered), idx.n)
	return idx, nil
}

// NumClusters returns the number of distinct gene clusters.
func (idx *GeneClusterIndex) NumClusters() int { return idx.n }

// Transcript returns the transcript with the given id, or nil.
func (idx *GeneClusterIndex) Transcript(id string) *Transcript { return idx.txs[id] }

// ClusterOf returns the cluster of the given transcript.
func (idx *GeneClusterIndex) ClusterOf(id string) (ClusterID, bool) {
	ti, ok := idx.byID[id]
	if !ok {
		return invalidClusterID, false
	}
	return idx.clusters[ti], true
}

// GenomePos converts a transcript-space position to (contig, genome position).
func (idx *GeneClusterIndex) GenomePos(id string, pos int) (string, int, error) {
	tx := idx.txs[id]
	if tx == nil {
		return "", 0, errors.Wrapf(ErrOutOfRange, "unknown transcript %s", id)
	}
	g, err := tx.GenomePos(pos)
	if err != nil {
		return "", 0, err
	}
	return tx.Chrom, g, nil
}

// unionFind is a plain disjoint-set over transcript indices. Built once
// during index construction, never used afterwards.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
		u.size[i] = 1
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]] // path halving
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(x, y int) {
	rx, ry := u.find(x), u.find(y)
	if rx == ry {
		return
	}
	if u.size[rx] < u.size[ry] {
		rx, ry = ry, rx
	}
	u.parent[ry] = rx
	u.size[rx] += u.size[ry]
}

// featureRow is one line of the gene feature table: a tab-separated UCSC-style
// listing with comma-separated exon boundary lists.
type featureRow struct {
	Name       string
	Gene       string
	Chrom      string
	Strand     string
	TxStart    int
	TxEnd      int
	ExonStarts string
	ExonEnds   string
}

func parseCommaInts(s string) ([]int, error) {
	s = strings.TrimSuffix(s, ",")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vals := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// ReadTranscripts reads the gene feature table at the given path. The file
// may be gzip compressed.
func ReadTranscripts(ctx context.Context, path string) ([]*Transcript, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var inr io.Reader = in.Reader(ctx)
	if u, _ := compress.NewReaderPath(inr, in.Name()); u != nil {
		inr = u
	}
	r := tsv.NewReader(bufio.NewReaderSize(inr, 64<<10))
	r.Comment = '#'

	var (
		txs   []*Transcript
		row   featureRow
		nLine int
	)
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(ErrMalformedAnnotation, "%s:%d: %v", path, nLine, err)
		}
		nLine++
		tx, err := transcriptFromRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, nLine)
		}
		txs = append(txs, tx)
	}
	if err := in.Close(ctx); err != nil {
		return nil, errors.Wrapf(err, "close %s", path)
	}
	log.Printf("Read %d transcripts from %s", len(txs), path)
	return txs, nil
}

func transcriptFromRow(row featureRow) (*Transcript, error) {
	strand, err := ParseStrand(row.Strand)
	if err != nil {
		return nil, err
	}
	starts, err := parseCommaInts(row.ExonStarts)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedAnnotation, "transcript %s: exon starts: %v", row.Name, err)
	}
	ends, err := parseCommaInts(row.ExonEnds)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedAnnotation, "transcript %s: exon ends: %v", row.Name, err)
	}
	if len(starts) != len(ends) {
		return nil, errors.Wrapf(ErrMalformedAnnotation,
			"transcript %s: %d exon starts vs %d ends", row.Name, len(starts), len(ends))
	}
	exons := make([]Interval, len(starts))
	for i := range starts {
		exons[i] = Interval{Start: starts[i], End: ends[i]}
		if exons[i].Start < row.TxStart || exons[i].End > row.TxEnd {
			return nil, errors.Wrapf(ErrMalformedAnnotation,
				"transcript %s: exon %d outside transcript bounds", row.Name, i)
		}
	}
	return NewTranscript(row.Name, row.Gene, row.Chrom, strand, exons)
}
