// File: internal/script/script.go
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
)

// ErrDuplicateOrder is returned when two script entries share an order.
var ErrDuplicateOrder = errors.New("duplicate order")

// Item is one planned comment or reply.
type Item struct {
	Order             Order
	RequiredAttribute string
	Text              string
}

// rawItem is the on-disk shape. Orders may be written as strings or numbers,
// and the attribute is accepted under either key.
type rawItem struct {
	Order     json.RawMessage `json:"order"`
	Attribute string          `json:"attribute"`
	Gender    string          `json:"gender"`
	Text      string          `json:"text"`
}

// Load decodes a JSON array of items. Empty text or attributes are kept; the
// scheduler reports them per item. Malformed or duplicate orders fail the
// whole script.
func Load(r io.Reader) ([]Item, error) {
	var raws []rawItem
	dec := json.ConfigCompatibleWithStandardLibrary.NewDecoder(r)
	if err := dec.Decode(&raws); err != nil {
		return nil, fmt.Errorf("failed to decode script: %w", err)
	}

	items := make([]Item, 0, len(raws))
	seen := make(map[string]int, len(raws))
	for i, raw := range raws {
		orderText, err := orderLiteral(raw.Order)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		order, err := ParseOrder(orderText)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		key := order.String()
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s appears at entries %d and %d", ErrDuplicateOrder, key, prev, i)
		}
		seen[key] = i

		attr := raw.Attribute
		if strings.TrimSpace(attr) == "" {
			attr = raw.Gender
		}
		items = append(items, Item{
			Order:             order,
			RequiredAttribute: strings.TrimSpace(attr),
			Text:              raw.Text,
		})
	}
	return items, nil
}

// LoadFile reads a script from path; a leading ~ is expanded.
func LoadFile(path string) ([]Item, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand script path: %w", err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// orderLiteral accepts "3.1", 3.1 and 3. Number literals keep their source
// text, so 3.10 stays [3 10].
func orderLiteral(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("%w: missing order", ErrInvalidOrder)
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		return s, nil
	}
	if trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9') {
		return string(trimmed), nil
	}
	return "", fmt.Errorf("%w: unsupported order literal %s", ErrInvalidOrder, trimmed)
}

// Sorted returns a copy of items in processing order: every parent precedes
// its replies and siblings keep numeric order.
func Sorted(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order.Less(out[j].Order)
	})
	return out
}
