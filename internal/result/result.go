// Package result records the outcome of every delivery attempt.
package result

// Reserved codes for failures that did not produce a protocol status code.
const (
	// CodeNotSupported marks a message the server cannot accept because a
	// required extension (e.g. SMTPUTF8) is not offered.
	CodeNotSupported = -1

	// CodeDisconnected marks a transport failure: the connection to the
	// target was lost during the attempt.
	CodeDisconnected = -2

	// CodeIOError marks a local or API failure that is not a protocol reply.
	CodeIOError = -3
)

// Outcome is one row of the result log. A refused test case yields one
// outcome per refused recipient.
type Outcome struct {
	Test      string
	Case      int
	Recipient string
	Delivered bool
	Code      int
	Message   string
}

// Success returns the outcome of a fully delivered test case.
func Success(test string, testCase int, recipient string) Outcome {
	return Outcome{
		Test:      test,
		Case:      testCase,
		Recipient: recipient,
		Delivered: true,
	}
}

// Failure returns the outcome of a refused or failed attempt.
func Failure(test string, testCase int, recipient string, code int, msg string) Outcome {
	return Outcome{
		Test:      test,
		Case:      testCase,
		Recipient: recipient,
		Code:      code,
		Message:   msg,
	}
}

// Transient reports whether the outcome carries a 4xx reply, the signal used
// to slow down delivery.
func (o Outcome) Transient() bool {
	return o.Code >= 400 && o.Code <= 499
}

// Sink is an append-only log of outcomes. It is opened once per run and
// closed exactly once at shutdown.
type Sink interface {
	Log(o Outcome) error
	Close() error
}

// Discard is a Sink that drops every outcome.
type Discard struct{}

// Log implements Sink.
func (Discard) Log(Outcome) error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }
