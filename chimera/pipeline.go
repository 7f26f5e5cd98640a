package chimera

import (
	"io"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// RecordReader yields alignment records until io.EOF. *bam.Reader implements
// it.
type RecordReader interface {
	Read() (*sam.Record, error)
}

// ValidateGrouping rejects coordinate-sorted inputs. Fragment assembly needs
// all records of a read name adjacent, so the stream must be name grouped.
func ValidateGrouping(h *sam.Header) error {
	if h.SortOrder == sam.Coordinate {
		return errors.Wrap(ErrAlignmentStream, "input is coordinate sorted, group by read name first")
	}
	return nil
}

// FragmentScanner groups consecutive records sharing a read name into
// Fragments.
type FragmentScanner struct {
	r    RecordReader
	next *sam.Record
	recs []*sam.Record
	frag Fragment
	err  error
	done bool
}

// NewFragmentScanner creates a FragmentScanner over r.
func NewFragmentScanner(r RecordReader) *FragmentScanner {
	return &FragmentScanner{r: r}
}

// Scan advances to the next fragment. It returns false at end of stream or on
// error; check Err after the loop.
func (s *FragmentScanner) Scan() bool {
	if s.err != nil || s.done {
		return false
	}
	s.recs = s.recs[:0]
	if s.next != nil {
		s.recs = append(s.recs, s.next)
		s.next = nil
	}
	for {
		rec, err := s.r.Read()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			s.err = errors.Wrap(err, "read alignment")
			return false
		}
		if len(s.recs) > 0 && rec.Name != s.recs[0].Name {
			s.next = rec
			break
		}
		s.recs = append(s.recs, rec)
	}
	if len(s.recs) == 0 {
		return false
	}
	s.frag, s.err = FragmentFromRecords(s.recs)
	return s.err == nil
}

// Fragment returns the current fragment. Valid until the next Scan.
func (s *FragmentScanner) Fragment() Fragment { return s.frag }

// Records returns the raw records backing the current fragment. Valid until
// the next Scan.
func (s *FragmentScanner) Records() []*sam.Record { return s.recs }

// Err returns the first error seen, nil at clean end of stream.
func (s *FragmentScanner) Err() error { return s.err }
