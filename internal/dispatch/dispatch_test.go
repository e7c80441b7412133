package dispatch

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
	"github.com/shineum/mailprobe/internal/result"
	"github.com/shineum/mailprobe/internal/selection"
)

type recordingChannel struct {
	attempts []delivery.Attempt
	messages []*message.Message
	reply    func(a delivery.Attempt) []result.Outcome
	closeErr error
	closed   int
	onSend   func()
}

func (c *recordingChannel) Deliver(_ context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	c.attempts = append(c.attempts, a)
	c.messages = append(c.messages, msg)
	if c.onSend != nil {
		c.onSend()
	}
	if c.reply != nil {
		return c.reply(a)
	}
	return []result.Outcome{result.Success(a.Test, a.Case, a.Recipient.String())}
}

func (c *recordingChannel) Close() error {
	c.closed++
	return c.closeErr
}

func (c *recordingChannel) Name() string { return "recording" }

type memorySink struct {
	rows   []result.Outcome
	closed int
}

func (s *memorySink) Log(o result.Outcome) error {
	s.rows = append(s.rows, o)
	return nil
}

func (s *memorySink) Close() error {
	s.closed++
	return nil
}

// fixedTest yields n plain messages per recipient.
func fixedTest(id string, n int) plugin.Test {
	return plugin.Test{
		ID:     id,
		Name:   id,
		Active: true,
		Generate: func(env plugin.Env) iter.Seq[*message.Message] {
			return func(yield func(*message.Message) bool) {
				for i := 0; i < n; i++ {
					if !yield(message.NewText("", "plain")) {
						return
					}
				}
			}
		},
	}
}

func twoRecipients() []message.Recipient {
	return message.Recipients([]string{"a@test.invalid", "b@test.invalid"}, false)
}

func TestRun_EveryCaseForEveryRecipient(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	sink := &memorySink{}
	r := &Runner{
		Sender:     "s@test.invalid",
		Recipients: twoRecipients(),
		Channel:    ch,
		Sink:       sink,
	}

	stats, err := r.Run(context.Background(), []plugin.Test{fixedTest("empty", 2)})
	require.NoError(t, err)

	require.Len(t, ch.attempts, 4)
	want := []delivery.Attempt{
		{Test: "empty", Case: 1, Recipient: message.Single("a@test.invalid"), RecipientIndex: 1},
		{Test: "empty", Case: 2, Recipient: message.Single("a@test.invalid"), RecipientIndex: 1},
		{Test: "empty", Case: 1, Recipient: message.Single("b@test.invalid"), RecipientIndex: 2},
		{Test: "empty", Case: 2, Recipient: message.Single("b@test.invalid"), RecipientIndex: 2},
	}
	assert.Equal(t, want, ch.attempts)
	assert.Len(t, sink.rows, 4)
	assert.Equal(t, Stats{Generated: 4, Delivered: 4, Outcomes: 4}, stats)

	assert.Equal(t, 1, ch.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRun_MessagesAreFinalized(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	r := &Runner{
		Sender:     "s@test.invalid",
		Recipients: message.Recipients([]string{"a@test.invalid", "b@test.invalid"}, true),
		Channel:    ch,
	}

	_, err := r.Run(context.Background(), []plugin.Test{fixedTest("empty", 1)})
	require.NoError(t, err)

	require.Len(t, ch.messages, 1)
	assert.Equal(t, "s@test.invalid", ch.messages[0].Header.Get("From"))
	assert.Equal(t, "a@test.invalid, b@test.invalid", ch.messages[0].Header.Get("To"))
}

func TestRun_FilterSelectsCases(t *testing.T) {
	t.Parallel()

	filter, err := selection.ParseCases([]string{"empty:1"})
	require.NoError(t, err)

	ch := &recordingChannel{}
	r := &Runner{
		Sender:     "s@test.invalid",
		Recipients: message.Recipients([]string{"a@test.invalid"}, false),
		Channel:    ch,
		Filter:     filter,
	}

	stats, err := r.Run(context.Background(), []plugin.Test{fixedTest("empty", 2), fixedTest("spf", 3)})
	require.NoError(t, err)

	var got []string
	for _, a := range ch.attempts {
		got = append(got, a.Test)
	}
	assert.Equal(t, []string{"empty", "spf", "spf", "spf"}, got)
	assert.Equal(t, 1, ch.attempts[0].Case)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRun_EmptyFilterSetDeliversNothing(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	r := &Runner{
		Recipients: message.Recipients([]string{"a@test.invalid"}, false),
		Channel:    ch,
		Filter:     selection.Filter{"empty": {}},
	}

	stats, err := r.Run(context.Background(), []plugin.Test{fixedTest("empty", 2)})
	require.NoError(t, err)
	assert.Empty(t, ch.attempts)
	assert.Equal(t, 2, stats.Generated)
	assert.Equal(t, 2, stats.Skipped)
}

func TestRun_IncludeExclude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sel  selection.Tests
		want []string
	}{
		{"all by default", selection.Tests{}, []string{"empty", "spf", "xss-subject"}},
		{"include narrows", selection.Tests{Include: []string{"spf"}}, []string{"spf"}},
		{"exclude removes", selection.Tests{Exclude: []string{"spf"}}, []string{"empty", "xss-subject"}},
		{"exclude wins", selection.Tests{Include: []string{"spf", "empty"}, Exclude: []string{"spf"}}, []string{"empty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ch := &recordingChannel{}
			r := &Runner{
				Recipients: message.Recipients([]string{"a@test.invalid"}, false),
				Channel:    ch,
				Tests:      tt.sel,
			}
			_, err := r.Run(context.Background(), []plugin.Test{
				fixedTest("empty", 1), fixedTest("spf", 1), fixedTest("xss-subject", 1),
			})
			require.NoError(t, err)

			var got []string
			for _, a := range ch.attempts {
				got = append(got, a.Test)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_NoRecipientsIsNoop(t *testing.T) {
	t.Parallel()

	generated := false
	test := plugin.Test{
		ID: "empty",
		Generate: func(plugin.Env) iter.Seq[*message.Message] {
			generated = true
			return func(func(*message.Message) bool) {}
		},
	}

	ch := &recordingChannel{}
	_, err := (&Runner{Channel: ch}).Run(context.Background(), []plugin.Test{test})
	require.NoError(t, err)

	assert.False(t, generated, "no source should be constructed without recipients")
	assert.Empty(t, ch.attempts)
	assert.Equal(t, 1, ch.closed)
}

func TestRun_RefusalsProduceOneRowPerRecipient(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{reply: func(a delivery.Attempt) []result.Outcome {
		return []result.Outcome{
			result.Failure(a.Test, a.Case, "a@test.invalid", 550, "no"),
			result.Failure(a.Test, a.Case, "b@test.invalid", 450, "later"),
		}
	}}
	sink := &memorySink{}
	r := &Runner{
		Recipients: message.Recipients([]string{"a@test.invalid", "b@test.invalid"}, true),
		Channel:    ch,
		Sink:       sink,
	}

	_, err := r.Run(context.Background(), []plugin.Test{fixedTest("empty", 1)})
	require.NoError(t, err)
	require.Len(t, sink.rows, 2)
	assert.Equal(t, 450, sink.rows[1].Code)
}

func TestRun_CancelClosesOnce(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := &recordingChannel{}
	ch.onSend = func() {
		if len(ch.attempts) == 2 {
			cancel()
		}
	}
	sink := &memorySink{}
	r := &Runner{
		Recipients: message.Recipients([]string{"a@test.invalid"}, false),
		Channel:    ch,
		Sink:       sink,
	}

	_, err := r.Run(ctx, []plugin.Test{fixedTest("empty", 5)})
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, ch.attempts, 2)
	assert.Equal(t, 1, ch.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRun_CloseErrorsAreJoined(t *testing.T) {
	t.Parallel()

	closeErr := errors.New("quit failed")
	ch := &recordingChannel{closeErr: closeErr}

	_, err := (&Runner{Channel: ch}).Run(context.Background(), nil)
	require.ErrorIs(t, err, closeErr)
}
