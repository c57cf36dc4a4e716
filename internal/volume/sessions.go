package volume

import (
	"github.com/fruitsalade/volumefs/internal/bit"
	"github.com/fruitsalade/volumefs/internal/metrics"
)

// DefaultSessionCap bounds retained text sessions per volume. Evicting a
// session only forces the affected client to re-LIST, so the cap trades
// memory against retry chatter.
const DefaultSessionCap = 256

// sessionSet retains one BIT per handed-out session timestamp, evicting in
// insertion order once the cap is exceeded.
type sessionSet struct {
	cap   int
	order []int64
	byTS  map[int64]*bit.Tree
}

func newSessionSet(cap int) *sessionSet {
	if cap <= 0 {
		cap = DefaultSessionCap
	}
	return &sessionSet{
		cap:  cap,
		byTS: make(map[int64]*bit.Tree),
	}
}

// Install registers a fresh empty session at ts and returns its tree.
func (s *sessionSet) Install(ts int64) *bit.Tree {
	if _, ok := s.byTS[ts]; !ok {
		s.order = append(s.order, ts)
	}
	tree := bit.New()
	s.byTS[ts] = tree

	for len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byTS, oldest)
		metrics.RecordTextSessionEviction()
	}
	metrics.SetTextSessionsLive(int64(len(s.byTS)))
	return tree
}

// Get returns the session rooted at ts, if still retained.
func (s *sessionSet) Get(ts int64) (*bit.Tree, bool) {
	tree, ok := s.byTS[ts]
	return tree, ok
}

func (s *sessionSet) Len() int {
	return len(s.byTS)
}
