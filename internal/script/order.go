// File: internal/script/order.go
package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidOrder is returned for order strings that are not a dotted path of
// positive integers.
var ErrInvalidOrder = errors.New("invalid order")

// Order is a hierarchical position such as [3] or [3 1]. A single component
// addresses a top-level comment; more components address nested replies.
type Order []int

// ParseOrder reads "3", "3.1" or "3,1". Empty components are dropped, so
// "3..1" and "3." parse as [3 1] and [3].
func ParseOrder(raw string) (Order, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return r == '.' || r == ','
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q has no components", ErrInvalidOrder, raw)
	}

	order := make(Order, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %q has non-numeric component %q", ErrInvalidOrder, raw, f)
		}
		if n <= 0 {
			return nil, fmt.Errorf("%w: %q has non-positive component %d", ErrInvalidOrder, raw, n)
		}
		order = append(order, n)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: %q has no components", ErrInvalidOrder, raw)
	}
	return order, nil
}

// String renders the dotted form, e.g. "3.1".
func (o Order) String() string {
	parts := make([]string, len(o))
	for i, n := range o {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare orders lexicographically over components; a proper prefix sorts first.
func (o Order) Compare(other Order) int {
	for i := 0; i < len(o) && i < len(other); i++ {
		switch {
		case o[i] < other[i]:
			return -1
		case o[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(o) < len(other):
		return -1
	case len(o) > len(other):
		return 1
	}
	return 0
}

// Less reports whether o sorts before other.
func (o Order) Less(other Order) bool { return o.Compare(other) < 0 }

// Equal reports component-wise equality.
func (o Order) Equal(other Order) bool { return o.Compare(other) == 0 }

// IsReply reports whether o addresses a nested reply.
func (o Order) IsReply() bool { return len(o) > 1 }

// Parent drops the last component. Top-level orders have no parent.
func (o Order) Parent() (Order, bool) {
	if !o.IsReply() {
		return nil, false
	}
	parent := make(Order, len(o)-1)
	copy(parent, o[:len(o)-1])
	return parent, true
}
