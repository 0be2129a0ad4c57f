package session

import (
	"errors"

	"github.com/banshee-data/sensorapi/internal/flatmsg"
)

var ErrScratchExhausted = errors.New("session: scratch allocation refused")

// scratchRecord is one launch argument copied while splitting a launch
// string.
type scratchRecord struct {
	arg  string
	size int
}

// scratch tracks the argument copies made for a session. Records are only
// appended until the session is released, when all of them are freed.
type scratch struct {
	alloc   flatmsg.Allocator
	records []scratchRecord
}

// track copies every argument into a record reserved against the allocator.
// If one reservation is refused the records made by this call are returned
// and ErrScratchExhausted is reported.
func (s *scratch) track(args []string) ([]string, error) {
	start := len(s.records)
	out := make([]string, 0, len(args))
	for _, a := range args {
		size := len(a) + 1
		if !s.alloc.Reserve(size) {
			s.rollback(start)
			return nil, ErrScratchExhausted
		}
		s.records = append(s.records, scratchRecord{arg: a, size: size})
		out = append(out, a)
	}
	return out, nil
}

func (s *scratch) rollback(to int) {
	for _, r := range s.records[to:] {
		s.alloc.Release(r.size)
	}
	s.records = s.records[:to]
}

// free releases every record. It is safe to call more than once.
func (s *scratch) free() int {
	n := len(s.records)
	s.rollback(0)
	s.records = nil
	return n
}

func (s *scratch) len() int {
	return len(s.records)
}
