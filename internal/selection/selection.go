// Package selection decides which tests and test cases of a run are delivered.
package selection

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrSyntax is returned for malformed test case selections.
var ErrSyntax = errors.New("invalid test case selection")

// Filter maps a test ID to the 1-based test case indices that are delivered.
// A test without an entry delivers all of its cases; a test with an empty
// set delivers none.
type Filter map[string]map[int]struct{}

// Allows reports whether case index of test id is delivered.
func (f Filter) Allows(id string, index int) bool {
	set, ok := f[id]
	if !ok {
		return true
	}
	_, ok = set[index]
	return ok
}

// ParseCases parses selections like "spf:1,2,10-20". Each token names one
// test; a later token for the same test replaces the earlier one.
func ParseCases(tokens []string) (Filter, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	f := make(Filter, len(tokens))
	for _, token := range tokens {
		id, defs, ok := strings.Cut(token, ":")
		if !ok || strings.Contains(defs, ":") {
			return nil, fmt.Errorf("%w %q: must have the syntax test:id-defs with exactly one colon", ErrSyntax, token)
		}

		set, err := parseIndices(defs)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrSyntax, token, err)
		}
		f[id] = set
	}
	return f, nil
}

// maxRange bounds the number of cases one range may select. No test comes
// close to it.
const maxRange = 100000

func parseIndices(defs string) (map[int]struct{}, error) {
	set := make(map[int]struct{})
	for _, def := range strings.Split(defs, ",") {
		if from, to, isRange := strings.Cut(def, "-"); isRange {
			if strings.Contains(to, "-") {
				return nil, fmt.Errorf("test case definitions may be single numbers or ranges (from-to)")
			}
			lo, err := strconv.Atoi(strings.TrimSpace(from))
			if err != nil {
				return nil, fmt.Errorf("test case identifiers must only contain numbers or ranges of numbers")
			}
			hi, err := strconv.Atoi(strings.TrimSpace(to))
			if err != nil {
				return nil, fmt.Errorf("test case identifiers must only contain numbers or ranges of numbers")
			}
			if hi-lo >= maxRange {
				return nil, fmt.Errorf("test case range %d-%d selects more than %d cases", lo, hi, maxRange)
			}
			for i := lo; i <= hi; i++ {
				set[i] = struct{}{}
			}
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(def))
		if err != nil {
			return nil, fmt.Errorf("test case identifiers must only contain numbers or ranges of numbers")
		}
		set[n] = struct{}{}
	}
	return set, nil
}

// Tests narrows the set of tests that run at all.
type Tests struct {
	Include []string
	Exclude []string
}

// Runs reports whether the test with the given ID runs. Exclusion wins over
// inclusion; an empty include list includes every test.
func (t Tests) Runs(id string) bool {
	if contains(t.Exclude, id) {
		return false
	}
	if len(t.Include) > 0 {
		return contains(t.Include, id)
	}
	return true
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// ReadLists reads list files with one entry per line and returns the sorted,
// de-duplicated union of all non-empty entries.
func ReadLists(paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, path := range paths {
		if err := readList(path, seen); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for entry := range seen {
		out = append(out, entry)
	}
	sort.Strings(out)
	return out, nil
}

func readList(path string, seen map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open list file %q: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			seen[line] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read list file %q: %w", path, err)
	}
	return nil
}
