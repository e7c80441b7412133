package sink

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Action is what the sink does when a recipient matches a rule.
type Action int

const (
	// ActionReply answers RCPT with the rule's code and text.
	ActionReply Action = iota
	// ActionDropRcpt hangs up instead of answering RCPT.
	ActionDropRcpt
	// ActionDropData accepts the recipient and hangs up on DATA.
	ActionDropData
)

// Rule scripts the reply to matching recipients.
type Rule struct {
	// Pattern is a shell glob matched against the lower-cased recipient.
	Pattern string
	Action  Action
	Code    int
	Text    string
}

// Rules are evaluated in order; the first match wins.
type Rules []Rule

// ParseRule parses "pattern=code text", "pattern=drop-rcpt" or
// "pattern=drop-data".
func ParseRule(s string) (Rule, error) {
	pattern, reply, ok := strings.Cut(s, "=")
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	reply = strings.TrimSpace(reply)
	if !ok || pattern == "" || reply == "" {
		return Rule{}, fmt.Errorf("invalid rule %q: want pattern=reply", s)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: %w", s, err)
	}

	switch reply {
	case "drop-rcpt":
		return Rule{Pattern: pattern, Action: ActionDropRcpt}, nil
	case "drop-data":
		return Rule{Pattern: pattern, Action: ActionDropData}, nil
	}

	codeText, text, _ := strings.Cut(reply, " ")
	code, err := strconv.Atoi(codeText)
	if err != nil || code < 200 || code > 599 {
		return Rule{}, fmt.Errorf("invalid rule %q: reply code must be between 200 and 599", s)
	}
	if text == "" {
		text = "Rejected by rule"
	}
	return Rule{Pattern: pattern, Action: ActionReply, Code: code, Text: text}, nil
}

// ParseRules parses every rule definition.
func ParseRules(defs []string) (Rules, error) {
	rules := make(Rules, 0, len(defs))
	for _, s := range defs {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Match returns the first rule matching rcpt.
func (rs Rules) Match(rcpt string) (Rule, bool) {
	rcpt = strings.ToLower(rcpt)
	for _, r := range rs {
		if ok, _ := path.Match(r.Pattern, rcpt); ok {
			return r, true
		}
	}
	return Rule{}, false
}
