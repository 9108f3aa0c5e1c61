package reads

import "sync/atomic"

// IDSource hands out process-unique, monotonically increasing read ordinals.
// The zero value starts at 0 and is safe for concurrent use.
type IDSource struct {
	next atomic.Uint64
}

// NewIDSource returns a source whose first ordinal is start.
func NewIDSource(start uint64) *IDSource {
	s := &IDSource{}
	s.next.Store(start)
	return s
}

// Next returns the next ordinal. A nil source always returns 0.
func (s *IDSource) Next() uint64 {
	if s == nil {
		return 0
	}
	return s.next.Add(1) - 1
}

// Peek returns the ordinal the next call to Next will hand out.
func (s *IDSource) Peek() uint64 {
	if s == nil {
		return 0
	}
	return s.next.Load()
}
