// Package plugin defines the contracts of test case generators and evasion
// modules and assembles the catalog of available ones at startup.
package plugin

import (
	"iter"

	"github.com/shineum/mailprobe/internal/message"
)

// Options are the run-wide settings individual tests may consult.
type Options struct {
	// BackconnectDomain is used by tests that need a channel back to the
	// tester, e.g. image URLs whose DNS lookups reveal rendering.
	BackconnectDomain string

	// SpoofedSender overrides the internal address used by spoofing tests.
	SpoofedSender string

	// SpoofedSenders is read from the spoofed sender list file.
	SpoofedSenders []string

	// Blacklist holds known bad sender addresses. Entries starting with "@"
	// denote whole domains.
	Blacklist []string

	// SpamFolders contain .eml samples that are replayed as-is.
	SpamFolders []string

	// MalwareFolders contain samples that are sent as attachments.
	MalwareFolders []string
}

// Env binds a test to one sender/recipient pair of a run.
type Env struct {
	Sender    string
	Recipient message.Recipient
	Evasions  EvasionSet
	Options   Options
}

// Test describes one category of adversarial messages.
type Test struct {
	ID          string
	Name        string
	Description string
	Active      bool

	// ExplicitSender puts the run sender into MAIL FROM regardless of headers.
	ExplicitSender bool
	// ExplicitRecipient puts the run recipient into RCPT TO regardless of headers.
	ExplicitRecipient bool

	// Generate yields the raw test cases. It is called once per recipient.
	Generate func(env Env) iter.Seq[*message.Message]
}

// Source returns the finalized test cases of t for env: every message is
// stamped with the test's envelope opt-ins and completed with From and To.
func (t Test) Source(env Env) iter.Seq[*message.Message] {
	return func(yield func(*message.Message) bool) {
		if t.Generate == nil {
			return
		}
		for msg := range t.Generate(env) {
			msg.ExplicitSender = t.ExplicitSender
			msg.ExplicitRecipient = t.ExplicitRecipient
			if !yield(msg.Finalize(env.Sender, env.Recipient)) {
				return
			}
		}
	}
}

// Generator yields (description, mutated part) pairs for one MIME part. The
// sequence mutates the part in place and can be consumed only once.
type Generator = iter.Seq2[string, *message.Entity]

// GeneratorFunc constructs a Generator for a part. Args carry construction
// parameters such as the attachment file name.
type GeneratorFunc func(part *message.Entity, args ...string) Generator

// Evasion describes a content mutation strategy. Evasive is used when the
// evasion is enabled for the run, Default otherwise.
type Evasion struct {
	ID          string
	Name        string
	Description string
	Active      bool

	Evasive GeneratorFunc
	Default GeneratorFunc
}

// Factory returns the generator constructor selected by enabled.
func (e Evasion) Factory(enabled bool) GeneratorFunc {
	if enabled {
		return e.Evasive
	}
	return e.Default
}

// EvasionSet holds the generator constructor chosen for each evasion of a run.
type EvasionSet map[string]GeneratorFunc

// Generator returns the constructor registered for id. Unknown evasions
// yield the part unchanged once.
func (s EvasionSet) Generator(id string) GeneratorFunc {
	if f, ok := s[id]; ok && f != nil {
		return f
	}
	return passThrough
}

func passThrough(part *message.Entity, _ ...string) Generator {
	return func(yield func(string, *message.Entity) bool) {
		yield("", part)
	}
}
