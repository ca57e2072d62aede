package utils

type MapSet[K comparable] struct {
	m map[K]struct{}
}

func NewMapSet[K comparable]() MapSet[K] {
	return MapSet[K]{
		m: make(map[K]struct{}),
	}
}

func (s MapSet[K]) Add(val K) {
	s.m[val] = struct{}{}
}

func (s MapSet[K]) Contains(val K) bool {
	_, ok := s.m[val]
	return ok
}

// Insert adds val and reports whether it was absent.
func (s MapSet[K]) Insert(val K) bool {
	if s.Contains(val) {
		return false
	}
	s.Add(val)
	return true
}
