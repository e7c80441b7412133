// Package ses implements a Channel that submits test messages as raw MIME
// through the AWS SES v2 API.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/result"
)

// Reply codes SES API errors are mapped to, so they read like SMTP replies
// in the result log and throttling triggers backpressure.
const (
	codeThrottled = 451
	codeRejected  = 554
	codeAPIError  = 550
)

// Config holds the configuration for creating a Channel.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender is the run sender, used as FromEmailAddress for messages that
	// ask for an explicit envelope sender.
	Sender string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Channel sends raw test messages via AWS SES.
type Channel struct {
	sender string
	client SendEmailAPI
}

// New creates a new Channel with the given configuration. SDK retries are
// disabled: throttling is reported as a transient outcome and handled by
// the delivery pacing.
func New(ctx context.Context, cfg Config) (*Channel, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.RetryMaxAttempts = 1
	})

	return &Channel{
		sender: cfg.Sender,
		client: client,
	}, nil
}

// NewWithClient creates a Channel with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *Channel {
	return &Channel{
		sender: sender,
		client: client,
	}
}

// Deliver submits msg unchanged. Without explicit envelope opt-ins SES
// derives sender and recipients from the headers.
func (c *Channel) Deliver(ctx context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	rcpt := a.Recipient.String()

	raw, err := msg.Bytes()
	if err != nil {
		return []result.Outcome{result.Failure(a.Test, a.Case, rcpt, result.CodeIOError, err.Error())}
	}

	input := &sesv2.SendEmailInput{
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if msg.ExplicitSender {
		input.FromEmailAddress = aws.String(c.sender)
	}
	if msg.ExplicitRecipient {
		input.Destination = &types.Destination{ToAddresses: a.Recipient.Addresses}
	}

	out, err := c.client.SendEmail(ctx, input)
	if err != nil {
		code, text := classify(err)
		slog.Warn("SES API error",
			"test", a.Test,
			"case", a.Case,
			"code", code,
			"error", err,
		)
		return []result.Outcome{result.Failure(a.Test, a.Case, rcpt, code, text)}
	}

	slog.Debug("SES accepted test case", "test", a.Test, "case", a.Case, "message_id", aws.ToString(out.MessageId))
	return []result.Outcome{result.Success(a.Test, a.Case, rcpt)}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "ses"
}

// Close is a no-op; the SDK client holds no session.
func (c *Channel) Close() error {
	return nil
}

// classify maps an SES error to a reply code and message.
func classify(err error) (int, string) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return result.CodeDisconnected, err.Error()
	}

	text := apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "LimitExceededException", "Throttling", "ThrottlingException":
		return codeThrottled, text
	case "MessageRejected", "MailFromDomainNotVerifiedException", "AccountSuspendedException",
		"SendingPausedException":
		return codeRejected, text
	default:
		return codeAPIError, text
	}
}
