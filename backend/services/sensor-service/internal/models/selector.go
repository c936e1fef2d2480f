package models

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrUnknownNumber = errors.New("unknown number")

// SelectorKind tags the shape of a Selector.
type SelectorKind int

const (
	SelectAll SelectorKind = iota
	SelectSingle
	SelectList
)

// Selector picks sensors or rooms by number. It is resolved once against the catalog.
type Selector struct {
	kind    SelectorKind
	numbers []int
}

func All() Selector { return Selector{kind: SelectAll} }

func Single(n int) Selector { return Selector{kind: SelectSingle, numbers: []int{n}} }

func List(numbers ...int) Selector {
	return Selector{kind: SelectList, numbers: append([]int(nil), numbers...)}
}

// ParseSelector reads "", "all", "3" or "1,2,5".
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return All(), nil
	}
	parts := strings.Split(raw, ",")
	numbers := make([]int, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return Selector{}, fmt.Errorf("%w: %q", ErrUnknownNumber, part)
		}
		numbers = append(numbers, n)
	}
	switch len(numbers) {
	case 0:
		return All(), nil
	case 1:
		return Single(numbers[0]), nil
	default:
		return List(numbers...), nil
	}
}

func (s Selector) Kind() SelectorKind { return s.kind }

// Resolve returns the selected numbers sorted and de-duplicated. Every number must be in valid.
func (s Selector) Resolve(valid []int) ([]int, error) {
	known := make(map[int]struct{}, len(valid))
	for _, n := range valid {
		known[n] = struct{}{}
	}

	candidates := s.numbers
	if s.kind == SelectAll {
		candidates = valid
	}

	out := make([]int, 0, len(candidates))
	seen := make(map[int]struct{}, len(candidates))
	for _, n := range candidates {
		if _, ok := known[n]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownNumber, n)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (s Selector) String() string {
	if s.kind == SelectAll {
		return "all"
	}
	parts := make([]string, len(s.numbers))
	for i, n := range s.numbers {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
