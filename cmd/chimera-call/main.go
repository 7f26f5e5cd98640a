package main

//
// chimera-call
//
// This application has two phases:
//
//   1. Classify a name-grouped transcriptome BAM, nominate breakpoints, and
//      write the junction references in --junction-fasta plus every resolved
//      record in --output.
//
//   2. Fold junction-realigned reads (--spanning-bam) back into the records,
//      filter, and write the surviving calls in --filtered-output.
//
// Example 1: run phase 1 only.
//
//    chimera-call -features=features.txt -transcripts=tx.fa -alignments=aligned.bam -junction-fasta=junctions.fa -output=all.tsv
//
// Example 2: run both phases, with the spanning BAM produced by realigning
// unaligned reads against junctions.fa.
//
//    chimera-call -features=features.txt -transcripts=tx.fa -alignments=aligned.bam -junction-fasta=junctions.fa -output=all.tsv -spanning-bam=spanning.bam -filtered-output=calls.tsv

import (
	"context"
	"flag"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio/encoding/fasta"
	"github.com/grailbio/chimera/chimera"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Collection of options set via cmdline flags
type callFlags struct {
	featuresPath       string
	transcriptsPath    string
	transcriptsFaiPath string
	alignmentsPath     string
	spanningBamPath    string
	blacklistPath      string
	outputPath         string
	filteredOutputPath string
	junctionFastaPath  string
	junctionMapPath    string
	classBamPrefix     string
}

type req struct {
	seq  uint64
	recs []*sam.Record
}

type res struct {
	seq  uint64
	recs []*sam.Record
	cl   chimera.Classification
}

func classifyRequests(reqCh chan req, resCh chan res, classifier *chimera.Classifier) {
	for req := range reqCh {
		frag, err := chimera.FragmentFromRecords(req.recs)
		if err != nil {
			log.Panicf("assemble fragment: %v", err)
		}
		resCh <- res{seq: req.seq, recs: req.recs, cl: classifier.Classify(&frag)}
	}
}

// classPartition writes each classified fragment's records to one BAM file
// per class.
type classPartition struct {
	writers []*bam.Writer
	files   []file.File
}

func newClassPartition(ctx context.Context, prefix string, h *sam.Header) *classPartition {
	p := &classPartition{}
	for c := chimera.ClassConcordant; c <= chimera.ClassUnmapped; c++ {
		path := fmt.Sprintf("%s.%s.bam", prefix, c)
		out, err := file.Create(ctx, path)
		if err != nil {
			log.Panicf("create %v: %v", path, err)
		}
		w, err := bam.NewWriter(out.Writer(ctx), h, 1)
		if err != nil {
			log.Panicf("bam writer %v: %v", path, err)
		}
		p.files = append(p.files, out)
		p.writers = append(p.writers, w)
	}
	return p
}

func (p *classPartition) write(class chimera.DiscordantClass, recs []*sam.Record) {
	for _, rec := range recs {
		if err := p.writers[class].Write(rec); err != nil {
			log.Panicf("write %v partition: %v", class, err)
		}
	}
}

func (p *classPartition) close(ctx context.Context) {
	once := errors.Once{}
	for i := range p.writers {
		once.Set(p.writers[i].Close())
		once.Set(p.files[i].Close(ctx))
	}
	if err := once.Err(); err != nil {
		log.Panicf("close partitions: %v", err)
	}
}

// classifyAlignments streams the name-grouped BAM through a worker pool and
// aggregates classifications into the nominator and insert size model.
func classifyAlignments(
	ctx context.Context,
	flags callFlags,
	classifier *chimera.Classifier,
	nominator *chimera.Nominator,
	isize *chimera.InsertSizeDistribution,
	stats *chimera.Stats) {
	in, err := file.Open(ctx, flags.alignmentsPath)
	if err != nil {
		log.Panicf("open %v: %v", flags.alignmentsPath, err)
	}
	br, err := bam.NewReader(in.Reader(ctx), runtime.NumCPU())
	if err != nil {
		log.Panicf("bam %v: %v", flags.alignmentsPath, err)
	}
	if err := chimera.ValidateGrouping(br.Header()); err != nil {
		log.Panicf("%v: %v", flags.alignmentsPath, err)
	}
	var partition *classPartition
	if flags.classBamPrefix != "" {
		partition = newClassPartition(ctx, flags.classBamPrefix, br.Header())
	}

	reqCh := make(chan req, 1024)
	resCh := make(chan res, 1024)
	wg1 := sync.WaitGroup{}
	for i := 0; i < runtime.NumCPU(); i++ {
		wg1.Add(1)
		go func() {
			classifyRequests(reqCh, resCh, classifier)
			wg1.Done()
		}()
	}
	wg2 := sync.WaitGroup{}
	wg2.Add(1)
	go func() {
		for res := range resCh {
			stats.Fragments++
			stats.ByClass[res.cl.Class]++
			if res.cl.Class == chimera.ClassConcordant {
				isize.Add(res.cl.Isize)
			}
			nominator.Add(res.cl)
			if partition != nil {
				partition.write(res.cl.Class, res.recs)
			}
		}
		wg2.Done()
	}()

	sc := chimera.NewFragmentScanner(br)
	var nFrag uint64
	for sc.Scan() {
		recs := sc.Records()
		owned := make([]*sam.Record, len(recs))
		copy(owned, recs)
		nFrag++
		if nFrag%(1024*1024) == 0 {
			log.Printf("%s: %dMi fragments", flags.alignmentsPath, nFrag/(1024*1024))
		}
		reqCh <- req{seq: nFrag, recs: owned}
	}
	if err := sc.Err(); err != nil {
		log.Panicf("read %v: %v", flags.alignmentsPath, err)
	}
	close(reqCh)
	wg1.Wait()
	close(resCh)
	wg2.Wait()

	once := errors.Once{}
	once.Set(br.Close())
	once.Set(in.Close(ctx))
	if err := once.Err(); err != nil {
		log.Panicf("close %v: %v", flags.alignmentsPath, err)
	}
	if partition != nil {
		partition.close(ctx)
	}
	log.Printf("Classified %d fragments", nFrag)
}

func openTranscripts(ctx context.Context, flags callFlags) fasta.Fasta {
	in, err := file.Open(ctx, flags.transcriptsPath)
	if err != nil {
		log.Panicf("open %v: %v", flags.transcriptsPath, err)
	}
	// The file stays open for the resolver's lifetime; the process exits soon
	// after, so the handle is left to process teardown.
	if flags.transcriptsFaiPath != "" {
		idx, err := file.Open(ctx, flags.transcriptsFaiPath)
		if err != nil {
			log.Panicf("open %v: %v", flags.transcriptsFaiPath, err)
		}
		ref, err := fasta.NewIndexed(in.Reader(ctx), idx.Reader(ctx))
		if err != nil {
			log.Panicf("indexed fasta %v: %v", flags.transcriptsPath, err)
		}
		if err := idx.Close(ctx); err != nil {
			log.Panicf("close %v: %v", flags.transcriptsFaiPath, err)
		}
		return ref
	}
	ref, err := fasta.New(in.Reader(ctx))
	if err != nil {
		log.Panicf("fasta %v: %v", flags.transcriptsPath, err)
	}
	return ref
}

func mergeSpanning(ctx context.Context, path string, merger *chimera.SpanningMerger, stats *chimera.Stats) {
	in, err := file.Open(ctx, path)
	if err != nil {
		log.Panicf("open %v: %v", path, err)
	}
	br, err := bam.NewReader(in.Reader(ctx), runtime.NumCPU())
	if err != nil {
		log.Panicf("bam %v: %v", path, err)
	}
	var n int
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Panicf("read %v: %v", path, err)
		}
		if err := merger.Add(rec, stats); err != nil {
			log.Panicf("merge spanning read: %v", err)
		}
		n++
	}
	once := errors.Once{}
	once.Set(br.Close())
	once.Set(in.Close(ctx))
	if err := once.Err(); err != nil {
		log.Panicf("close %v: %v", path, err)
	}
	log.Printf("Merged %d junction-realigned reads (%d accepted, %d rejected)",
		n, stats.SpanningReads, stats.RejectedSpanningReads)
}

func writeRecordFile(ctx context.Context, path string, recs []*chimera.Record) {
	out, err := file.Create(ctx, path)
	if err != nil {
		log.Panicf("create %v: %v", path, err)
	}
	once := errors.Once{}
	once.Set(chimera.WriteRecords(out.Writer(ctx), recs))
	once.Set(out.Close(ctx))
	if err := once.Err(); err != nil {
		log.Panicf("write %v: %v", path, err)
	}
	log.Printf("Wrote %d records to %s", len(recs), path)
}

func detectChimeras(ctx context.Context, flags callFlags, opts chimera.Opts) {
	txs, err := chimera.ReadTranscripts(ctx, flags.featuresPath)
	if err != nil {
		log.Panicf("read features %v: %v", flags.featuresPath, err)
	}
	idx, err := chimera.NewGeneClusterIndex(txs)
	if err != nil {
		log.Panicf("build cluster index: %v", err)
	}

	stats := chimera.Stats{}
	classifier := chimera.NewClassifier(idx, &opts)
	nominator := chimera.NewNominator(idx, &opts)
	isize := chimera.NewInsertSizeDistribution(&opts)
	classifyAlignments(ctx, flags, classifier, nominator, isize, &stats)
	stats.SyntheticIsize = isize.EnsureInsertSize(&opts)
	log.Printf("Insert size: n=%d mean=%.1f std=%.1f p%.1f=%.1f",
		isize.N(), isize.Mean(), isize.Std(), opts.IsizePercentile,
		isize.Percentile(opts.IsizePercentile))

	cands, err := nominator.Candidates()
	if err != nil {
		log.Panicf("nominate: %v", err)
	}
	ref := openTranscripts(ctx, flags)
	resolver := chimera.NewResolver(idx, ref, &opts)
	recs, err := resolver.Resolve(cands, &stats)
	if err != nil {
		log.Panicf("resolve breakpoints: %v", err)
	}
	log.Printf("Stats: finished stage1: %+v", stats)

	jout, err := file.Create(ctx, flags.junctionFastaPath)
	if err != nil {
		log.Panicf("create %v: %v", flags.junctionFastaPath, err)
	}
	once := errors.Once{}
	once.Set(chimera.WriteJunctionFasta(jout.Writer(ctx), recs))
	once.Set(jout.Close(ctx))
	if err := once.Err(); err != nil {
		log.Panicf("write %v: %v", flags.junctionFastaPath, err)
	}
	if flags.junctionMapPath != "" {
		mout, err := file.Create(ctx, flags.junctionMapPath)
		if err != nil {
			log.Panicf("create %v: %v", flags.junctionMapPath, err)
		}
		once = errors.Once{}
		once.Set(chimera.WriteJunctionMap(mout.Writer(ctx), recs))
		once.Set(mout.Close(ctx))
		if err := once.Err(); err != nil {
			log.Panicf("write %v: %v", flags.junctionMapPath, err)
		}
	}
	writeRecordFile(ctx, flags.outputPath, recs)

	if flags.spanningBamPath == "" {
		log.Printf("No -spanning-bam, skipping the filtering stage")
		return
	}
	merger := chimera.NewSpanningMerger(recs, &opts)
	for _, path := range strings.Split(flags.spanningBamPath, ",") {
		mergeSpanning(ctx, path, merger, &stats)
	}

	var blacklist chimera.Blacklist
	if flags.blacklistPath != "" {
		if blacklist, err = chimera.ReadBlacklist(ctx, flags.blacklistPath); err != nil {
			log.Panicf("read blacklist %v: %v", flags.blacklistPath, err)
		}
	}
	filter := chimera.NewFilter(isize, blacklist, &opts)
	filtered := filter.Apply(recs, &stats)
	writeRecordFile(ctx, flags.filteredOutputPath, filtered)
	log.Printf("Stats: final: %+v", stats)
}

func main() {
	opts := chimera.DefaultOpts
	flags := callFlags{}
	flag.StringVar(&flags.featuresPath, "features", "", "Gene feature table describing the transcriptome.")
	flag.StringVar(&flags.transcriptsPath, "transcripts", "", "FASTA of transcript sequences; names must match the feature table.")
	flag.StringVar(&flags.transcriptsFaiPath, "transcripts-fai", "", "Optional FASTA index for -transcripts.")
	flag.StringVar(&flags.alignmentsPath, "alignments", "", "Name-grouped BAM of paired reads aligned to the transcriptome.")
	flag.StringVar(&flags.spanningBamPath, "spanning-bam", "", `Comma-separated BAMs of reads realigned against the junction
FASTA, e.g. one from the unaligned reads and one from the discordant mates. If empty, only the first phase runs and
-filtered-output is not written.`)
	flag.StringVar(&flags.blacklistPath, "blacklist", "", "Optional table of known false-positive breakpoints.")
	flag.StringVar(&flags.outputPath, "output", "./all-records.tsv", "TSV file receiving every resolved record.")
	flag.StringVar(&flags.filteredOutputPath, "filtered-output", "./filtered-records.tsv", "TSV file receiving the filtered calls.")
	flag.StringVar(&flags.junctionFastaPath, "junction-fasta", "./junctions.fa", "FASTA file receiving the junction references.")
	flag.StringVar(&flags.junctionMapPath, "junction-map", "", "If set, write the junction-to-breakpoint table here.")
	flag.StringVar(&flags.classBamPrefix, "class-bam-prefix", "", "If set, write one BAM per discordance class at <prefix>.<class>.bam.")

	flag.IntVar(&opts.MinFragmentLength, "min-fragment-length", chimera.DefaultOpts.MinFragmentLength, "Smallest insert size of a concordant pair.")
	flag.IntVar(&opts.MaxFragmentLength, "max-fragment-length", chimera.DefaultOpts.MaxFragmentLength, "Largest insert size of a concordant pair.")
	flag.IntVar(&opts.MaxMultimaps, "multihits", chimera.DefaultOpts.MaxMultimaps, "Upper limit on alignment loci considered per mate.")
	flag.IntVar(&opts.HomologyMismatches, "homology-mismatches", chimera.DefaultOpts.HomologyMismatches, "Mismatch budget of the breakpoint homology scan.")
	flag.IntVar(&opts.ReadLength, "read-length", chimera.DefaultOpts.ReadLength, "Read length; junction flanks are read-length minus one.")
	flag.IntVar(&opts.AnchorMin, "anchor-min", chimera.DefaultOpts.AnchorMin, "Min junction overlap for a spanning read.")
	flag.IntVar(&opts.AnchorLength, "anchor-length", chimera.DefaultOpts.AnchorLength, "Overlap below which the strict anchor mismatch budget applies.")
	flag.IntVar(&opts.AnchorMismatches, "anchor-mismatches", chimera.DefaultOpts.AnchorMismatches, "Mismatch budget for short-anchor spanning reads.")
	flag.IntVar(&opts.MaxMismatches, "mismatches", chimera.DefaultOpts.MaxMismatches, "Per-read mismatch budget for spanning reads.")
	flag.Float64Var(&opts.IsizePercentile, "isize-percentile", chimera.DefaultOpts.IsizePercentile, "Insert size percentile bounding the implied isize of a call.")
	flag.Float64Var(&opts.MinWeightedCov, "weighted-unique-frags", chimera.DefaultOpts.MinWeightedCov, "Weighted fragment floor for calls without spanning reads.")
	flag.Float64Var(&opts.MinWeightedCovSpanning, "weighted-unique-frags-spanning", chimera.DefaultOpts.MinWeightedCovSpanning, "Weighted fragment floor once a spanning read is present.")

	cleanup := grail.Init()
	defer cleanup()
	ctx := vcontext.Background()

	if flags.featuresPath == "" || flags.transcriptsPath == "" || flags.alignmentsPath == "" {
		log.Fatal("-features, -transcripts and -alignments are required")
	}
	detectChimeras(ctx, flags, opts)
	log.Printf("All done")
}
