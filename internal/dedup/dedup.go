// File: internal/dedup/dedup.go
package dedup

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/threadweaver/internal/surface"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Item is a rendered content item with its extracted text.
type Item struct {
	Element surface.Element
	Text    string
	// Normalized is Normalize(Text), computed once at collection time.
	Normalized string
}

// Normalize canonicalizes text for comparison: Unicode NFC, trimmed,
// lower-cased, with whitespace runs collapsed to one space.
func Normalize(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	// Lower-casing can produce sequences that compose differently.
	return norm.NFC.String(s)
}

// TextReader extracts the comparable text of a rendered item.
type TextReader func(ctx context.Context, el surface.Element) (string, error)

// Collect reads the text of each element. Elements that went stale or cannot
// be read are skipped.
func Collect(ctx context.Context, logger *zap.Logger, elements []surface.Element, read TextReader) []Item {
	items := make([]Item, 0, len(elements))
	for _, el := range elements {
		if ctx.Err() != nil {
			break
		}
		text, err := read(ctx, el)
		if err != nil {
			if !errors.Is(err, surface.ErrStaleElement) {
				logger.Debug("Skipping unreadable item.", zap.String("element", el.Key()), zap.Error(err))
			}
			continue
		}
		items = append(items, Item{Element: el, Text: text, Normalized: Normalize(text)})
	}
	return items
}

// IsDuplicate reports whether any item's normalized text equals the
// candidate's. An empty candidate never matches.
func IsDuplicate(items []Item, candidate string) bool {
	_, ok := Locate(items, candidate, Exact)
	return ok
}

// Mode selects how Locate compares texts.
type Mode int

const (
	// Exact requires equal normalized text.
	Exact Mode = iota
	// Prefix accepts items whose text starts with the snippet.
	Prefix
	// Contains accepts items whose text contains the snippet.
	Contains
)

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Prefix:
		return "prefix"
	case Contains:
		return "contains"
	}
	return "unknown"
}

// Locate returns the first item matching snippet under mode.
func Locate(items []Item, snippet string, mode Mode) (Item, bool) {
	want := Normalize(snippet)
	if want == "" {
		return Item{}, false
	}
	for _, it := range items {
		have := it.Normalized
		if have == "" && it.Text != "" {
			have = Normalize(it.Text)
		}
		var ok bool
		switch mode {
		case Exact:
			ok = have == want
		case Prefix:
			ok = strings.HasPrefix(have, want)
		case Contains:
			ok = strings.Contains(have, want)
		}
		if ok {
			return it, true
		}
	}
	return Item{}, false
}

// LocateParent finds the item carrying a parent's text, trying exact, then
// prefix, then substring matching. It reports the mode that matched.
func LocateParent(items []Item, parentText string) (Item, Mode, bool) {
	for _, mode := range []Mode{Exact, Prefix, Contains} {
		if it, ok := Locate(items, parentText, mode); ok {
			return it, mode, true
		}
	}
	return Item{}, Exact, false
}
