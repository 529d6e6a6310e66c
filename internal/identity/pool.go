// File: internal/identity/pool.go
package identity

import "strings"

// Pool is the ordered set of identities still available to a run. It only
// shrinks, and only the scheduler shrinks it.
type Pool struct {
	ids []string
}

// NewPool builds a pool from ids, dropping blanks and repeats while keeping
// first-seen order.
func NewPool(ids []string) *Pool {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return &Pool{ids: out}
}

// Identities returns a copy of the remaining identities in order.
func (p *Pool) Identities() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Len returns the number of remaining identities.
func (p *Pool) Len() int { return len(p.ids) }

// Contains reports whether id is still available.
func (p *Pool) Contains(id string) bool {
	for _, have := range p.ids {
		if have == id {
			return true
		}
	}
	return false
}

// Remove consumes id and reports whether it was present.
func (p *Pool) Remove(id string) bool {
	for i, have := range p.ids {
		if have == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			return true
		}
	}
	return false
}
