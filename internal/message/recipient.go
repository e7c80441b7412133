package message

import "strings"

// Recipient is the target of one generated message: a single address, or all
// configured addresses when a single message is sent to everyone.
type Recipient struct {
	Addresses []string
}

// Single returns a recipient with one address.
func Single(addr string) Recipient {
	return Recipient{Addresses: []string{addr}}
}

// Group returns one recipient holding every given address.
func Group(addrs []string) Recipient {
	return Recipient{Addresses: append([]string(nil), addrs...)}
}

// Recipients expands the configured addresses into the ordered recipient
// list of a run.
func Recipients(addrs []string, sendOne bool) []Recipient {
	if len(addrs) == 0 {
		return nil
	}
	if sendOne {
		return []Recipient{Group(addrs)}
	}
	out := make([]Recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Single(a))
	}
	return out
}

// IsGroup reports whether the recipient stands for several addresses.
func (r Recipient) IsGroup() bool {
	return len(r.Addresses) > 1
}

// String returns the comma-joined address list, as used in the To header and
// in the result log.
func (r Recipient) String() string {
	return strings.Join(r.Addresses, ", ")
}
