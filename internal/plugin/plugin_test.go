package plugin

import (
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailprobe/internal/message"
)

func twoCases(env Env) iter.Seq[*message.Message] {
	return func(yield func(*message.Message) bool) {
		for _, subject := range []string{"one", "two"} {
			msg := message.NewText("", "plain")
			msg.Header.Add("Subject", subject)
			if !yield(msg) {
				return
			}
		}
	}
}

func unit(name string, tests ...Test) Unit {
	return Unit{Name: name, Load: func() (Contribution, error) {
		return Contribution{Tests: tests}, nil
	}}
}

func TestDiscover_KeepsActiveOnly(t *testing.T) {
	t.Parallel()

	c, err := Discover(
		unit("empty", Test{ID: "empty", Active: true}, Test{ID: "base", Active: false}),
		unit("spf", Test{ID: "spf", Active: true}),
	)
	require.NoError(t, err)

	tests := c.Tests()
	require.Len(t, tests, 2)
	assert.Equal(t, "empty", tests[0].ID)
	assert.Equal(t, "spf", tests[1].ID)

	_, ok := c.Test("base")
	assert.False(t, ok, "inactive tests are not discovered")
}

func TestDiscover_DuplicateIDFails(t *testing.T) {
	t.Parallel()

	c, err := Discover(
		unit("a", Test{ID: "spf", Active: true}),
		unit("b", Test{ID: "spf", Active: true}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Len(t, c.Tests(), 1)
}

func TestDiscover_InactiveDuplicateIsIgnored(t *testing.T) {
	t.Parallel()

	_, err := Discover(
		unit("a", Test{ID: "homograph-base", Active: false}),
		unit("b", Test{ID: "homograph-base", Active: false}),
	)
	assert.NoError(t, err)
}

func TestDiscover_IsolatesFailingUnits(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c, err := Discover(
		Unit{Name: "broken", Load: func() (Contribution, error) { return Contribution{}, boom }},
		Unit{Name: "panics", Load: func() (Contribution, error) { panic("bad unit") }},
		unit("good", Test{ID: "iframe", Active: true}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panics")

	_, ok := c.Test("iframe")
	assert.True(t, ok, "siblings of a failing unit are still discovered")
}

func TestSource_FinalizesAndStamps(t *testing.T) {
	t.Parallel()

	test := Test{ID: "two", Active: true, ExplicitSender: true, Generate: twoCases}
	env := Env{Sender: "sender@test.invalid", Recipient: message.Single("rcpt@test.invalid")}

	var got []*message.Message
	for msg := range test.Source(env) {
		got = append(got, msg)
	}

	require.Len(t, got, 2)
	for _, msg := range got {
		assert.True(t, msg.ExplicitSender)
		assert.False(t, msg.ExplicitRecipient)
		assert.Equal(t, "sender@test.invalid", msg.Header.Get("From"))
		assert.Equal(t, "rcpt@test.invalid", msg.Header.Get("To"))
	}
	assert.Equal(t, "two", got[1].Header.Get("Subject"))
}

func TestSource_StopsEarly(t *testing.T) {
	t.Parallel()

	test := Test{ID: "two", Generate: twoCases}
	n := 0
	for range test.Source(Env{Recipient: message.Single("r@test.invalid")}) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestSource_NilGenerator(t *testing.T) {
	t.Parallel()

	n := 0
	for range (Test{ID: "none"}).Source(Env{}) {
		n++
	}
	assert.Zero(t, n)
}

func describe(desc string) GeneratorFunc {
	return func(part *message.Entity, _ ...string) Generator {
		return func(yield func(string, *message.Entity) bool) {
			yield(desc, part)
		}
	}
}

func TestCatalog_EvasionSet(t *testing.T) {
	t.Parallel()

	c, err := Discover(Unit{Name: "evasion", Load: func() (Contribution, error) {
		return Contribution{Evasions: []Evasion{{
			ID:      "content_disposition",
			Active:  true,
			Evasive: describe("evasive"),
			Default: describe("default"),
		}}}, nil
	}})
	require.NoError(t, err)

	first := func(set EvasionSet) string {
		for desc := range set.Generator("content_disposition")(&message.Entity{}) {
			return desc
		}
		return ""
	}

	off, err := c.EvasionSet(nil)
	require.NoError(t, err)
	assert.Equal(t, "default", first(off))

	on, err := c.EvasionSet([]string{"content_disposition"})
	require.NoError(t, err)
	assert.Equal(t, "evasive", first(on))

	_, err = c.EvasionSet([]string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownEvasion)
}

func TestEvasionSet_UnknownPassesThrough(t *testing.T) {
	t.Parallel()

	part := &message.Entity{}
	var seen []*message.Entity
	for desc, p := range (EvasionSet{}).Generator("missing")(part) {
		assert.Empty(t, desc)
		seen = append(seen, p)
	}
	require.Len(t, seen, 1)
	assert.Same(t, part, seen[0])
}
