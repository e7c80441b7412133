package plugin

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateID is returned when two active descriptors share an ID.
	ErrDuplicateID = errors.New("duplicate plugin identifier")

	// ErrUnknownEvasion is returned when a run enables an evasion that does
	// not exist.
	ErrUnknownEvasion = errors.New("unknown evasion")
)

// Contribution is what a unit contributes to the catalog.
type Contribution struct {
	Tests    []Test
	Evasions []Evasion
}

// Unit is one generator-definition unit, typically one file of generators.
type Unit struct {
	Name string
	Load func() (Contribution, error)
}

// Catalog is the read-only set of active tests and evasions of a process.
type Catalog struct {
	tests    map[string]Test
	evasions map[string]Evasion
}

// Discover loads every unit and keeps the active descriptors. A failing unit
// does not prevent its siblings from being discovered: its error is collected
// and returned together with the catalog of everything that loaded.
// Duplicate identifiers are reported the same way; callers treat any error
// as fatal at startup.
func Discover(units ...Unit) (*Catalog, error) {
	c := &Catalog{
		tests:    make(map[string]Test),
		evasions: make(map[string]Evasion),
	}

	var errs []error
	for _, u := range units {
		contrib, err := load(u)
		if err != nil {
			errs = append(errs, fmt.Errorf("unit %q: %w", u.Name, err))
			continue
		}

		for _, t := range contrib.Tests {
			if !t.Active {
				continue
			}
			if _, dup := c.tests[t.ID]; dup {
				errs = append(errs, fmt.Errorf("unit %q: test %q: %w", u.Name, t.ID, ErrDuplicateID))
				continue
			}
			c.tests[t.ID] = t
		}

		for _, e := range contrib.Evasions {
			if !e.Active {
				continue
			}
			if _, dup := c.evasions[e.ID]; dup {
				errs = append(errs, fmt.Errorf("unit %q: evasion %q: %w", u.Name, e.ID, ErrDuplicateID))
				continue
			}
			c.evasions[e.ID] = e
		}
	}

	return c, errors.Join(errs...)
}

// load calls the unit loader, turning a panic into an error so that one
// broken unit cannot take down discovery of the others.
func load(u Unit) (contrib Contribution, err error) {
	if u.Load == nil {
		return Contribution{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while loading: %v", r)
		}
	}()
	return u.Load()
}

// Tests returns the active tests sorted by ID.
func (c *Catalog) Tests() []Test {
	out := make([]Test, 0, len(c.tests))
	for _, t := range c.tests {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evasions returns the active evasions sorted by ID.
func (c *Catalog) Evasions() []Evasion {
	out := make([]Evasion, 0, len(c.evasions))
	for _, e := range c.evasions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Test returns the test with the given ID.
func (c *Catalog) Test(id string) (Test, bool) {
	t, ok := c.tests[id]
	return t, ok
}

// EvasionSet selects the evasive generator for every enabled evasion and the
// default generator for all others.
func (c *Catalog) EvasionSet(enabled []string) (EvasionSet, error) {
	on := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		if _, ok := c.evasions[id]; !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownEvasion, id)
		}
		on[id] = true
	}

	set := make(EvasionSet, len(c.evasions))
	for id, e := range c.evasions {
		set[id] = e.Factory(on[id])
	}
	return set, nil
}
