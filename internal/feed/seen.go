package feed

// SeenSet is a fixed-capacity ordered set of keys. Once full, adding a new key
// evicts the oldest one. Not safe for concurrent use; Feed guards it.
type SeenSet struct {
	ring  []string
	next  int
	size  int
	index map[string]struct{}
}

func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &SeenSet{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

func (s *SeenSet) Contains(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Add records key. It returns false if key was already present.
func (s *SeenSet) Add(key string) bool {
	if _, ok := s.index[key]; ok {
		return false
	}
	if s.size == len(s.ring) {
		delete(s.index, s.ring[s.next])
	} else {
		s.size++
	}
	s.ring[s.next] = key
	s.index[key] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}

func (s *SeenSet) Len() int { return s.size }

func (s *SeenSet) Cap() int { return len(s.ring) }

// Keys returns the keys oldest first.
func (s *SeenSet) Keys() []string {
	out := make([]string, 0, s.size)
	start := (s.next - s.size + len(s.ring)) % len(s.ring)
	for i := 0; i < s.size; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}
