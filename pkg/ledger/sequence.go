package ledger

// Sequence hands out strictly increasing ids. An id is only consumed once
// Commit is called for it, so a failed write never burns an id.
// Not safe for concurrent use; the engine's writer lock guards it.
type Sequence struct {
	last uint64
}

// NewSequence starts a sequence after the given last issued id
func NewSequence(last uint64) *Sequence {
	return &Sequence{last: last}
}

// Next returns the id the next committed record will receive
func (s *Sequence) Next() uint64 {
	return s.last + 1
}

// Commit marks id as issued. Ids lower than or equal to the last issued id are ignored.
func (s *Sequence) Commit(id uint64) {
	if id > s.last {
		s.last = id
	}
}

// Last returns the last issued id, which is also the number of ids issued
func (s *Sequence) Last() uint64 {
	return s.last
}
