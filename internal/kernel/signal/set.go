package signal

import "strings"

// Set is a bitset of object signals.
type Set uint32

// Object signal bits. User is the user-defined event bit delivered by the
// raise-peer-user-signal syscall.
const (
	Readable Set = 1 << iota
	Writable
	User
)

// Empty is the zero signal set.
const Empty Set = 0

// Has reports whether every bit in m is set in s.
func (s Set) Has(m Set) bool {
	return s&m == m
}

// Intersects reports whether s and m share at least one bit.
func (s Set) Intersects(m Set) bool {
	return s&m != 0
}

// Union returns s | m.
func (s Set) Union(m Set) Set {
	return s | m
}

// Without returns s with the bits in m lowered.
func (s Set) Without(m Set) Set {
	return s &^ m
}

// String renders the set for logs, e.g. "readable|user".
func (s Set) String() string {
	if s == Empty {
		return "none"
	}

	names := make([]string, 0, 3)
	if s.Has(Readable) {
		names = append(names, "readable")
	}
	if s.Has(Writable) {
		names = append(names, "writable")
	}
	if s.Has(User) {
		names = append(names, "user")
	}
	if rest := s &^ (Readable | Writable | User); rest != 0 {
		names = append(names, "unknown")
	}
	return strings.Join(names, "|")
}
