// Package config provides layered configuration for mailprobe: defaults, an
// optional YAML file, environment variables and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Channel names.
const (
	ChannelSMTP    = "smtp"
	ChannelSES     = "ses"
	ChannelGraph   = "graph"
	ChannelStdout  = "stdout"
	ChannelFile    = "file"
	ChannelMbox    = "mbox"
	ChannelMaildir = "maildir"
)

// Config holds the complete application configuration.
type Config struct {
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
	SendOne    bool     `yaml:"send_one"`

	// Channel selects the network channel. Output.Path switches to storage.
	Channel string `yaml:"channel"`

	SMTP      SMTPConfig      `yaml:"smtp"`
	Delay     DelayConfig     `yaml:"delay"`
	Output    OutputConfig    `yaml:"output"`
	Selection SelectionConfig `yaml:"selection"`
	Inputs    InputsConfig    `yaml:"inputs"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	TLS       TLSConfig       `yaml:"tls"`
	Sink      SinkConfig      `yaml:"sink"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SMTPConfig holds the connection settings for the server under test.
type SMTPConfig struct {
	Server   string `yaml:"server"`
	Helo     string `yaml:"helo"`
	StartTLS bool   `yaml:"starttls"`
}

// DelayConfig holds the pacing of network deliveries, in seconds.
type DelayConfig struct {
	Initial float64 `yaml:"initial"`
	Auto    bool    `yaml:"auto"`
	Step    float64 `yaml:"step"`
	Max     float64 `yaml:"max"`
}

// OutputConfig holds the result log and the storage target.
type OutputConfig struct {
	ResultLog string `yaml:"result_log"`
	Path      string `yaml:"path"`
	// Format is "", "mbox" or "maildir". Empty writes one file per message.
	Format string `yaml:"format"`
}

// SelectionConfig narrows what a run delivers.
type SelectionConfig struct {
	Include  []string `yaml:"include"`
	Exclude  []string `yaml:"exclude"`
	Cases    []string `yaml:"cases"`
	Evasions []string `yaml:"evasions"`
}

// InputsConfig holds the data individual tests consume.
type InputsConfig struct {
	BackconnectDomain  string   `yaml:"backconnect_domain"`
	SpoofedSender      string   `yaml:"spoofed_sender"`
	SpoofedSenderLists []string `yaml:"spoofed_sender_lists"`
	Blacklists         []string `yaml:"blacklists"`
	SpamFolders        []string `yaml:"spam_folders"`
	MalwareFolders     []string `yaml:"malware_folders"`
}

// SESConfig holds Amazon SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// Mailbox is the user the messages are sent as. Empty means Sender.
	Mailbox string `yaml:"mailbox"`
}

// TLSConfig holds TLS certificate file paths and client settings.
type TLSConfig struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SinkConfig holds the capture server configuration.
type SinkConfig struct {
	Listen         string `yaml:"listen"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	SMTPUTF8       bool   `yaml:"smtputf8"`
	// Rules are "pattern=code text", "pattern=drop-rcpt" or "pattern=drop-data".
	Rules []string `yaml:"rules"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables on top of the defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// EffectiveChannel returns the channel a run delivers through. Setting an
// output path selects a storage channel regardless of Channel.
func (c *Config) EffectiveChannel() string {
	if c.Output.Path == "" {
		return c.Channel
	}
	switch c.Output.Format {
	case ChannelMbox, ChannelMaildir:
		return c.Output.Format
	default:
		return ChannelFile
	}
}

// IsNetwork reports whether the effective channel is paced.
func (c *Config) IsNetwork() bool {
	switch c.EffectiveChannel() {
	case ChannelSMTP, ChannelSES, ChannelGraph:
		return true
	}
	return false
}

// GraphConfigured returns true if all Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// SESConfigured returns true if the SES region is set. Static credentials
// are optional; the default AWS credential chain is used otherwise.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// AuthEnabled returns true if both sink username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.Sink.Username != "" && c.Sink.Password != ""
}

// Validate reports every configuration error of a run.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Recipients) == 0 {
		errs = append(errs, errors.New("at least one recipient is required"))
	}

	switch c.Channel {
	case ChannelSMTP, ChannelSES, ChannelGraph, ChannelStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown channel %q", c.Channel))
	}

	switch c.Output.Format {
	case "":
	case ChannelMbox, ChannelMaildir:
		if c.Output.Path == "" {
			errs = append(errs, fmt.Errorf("%s output requires an output path", c.Output.Format))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown output format %q", c.Output.Format))
	}

	if c.Delay.Initial < 0 || c.Delay.Step < 0 || c.Delay.Max < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}

	switch c.EffectiveChannel() {
	case ChannelSES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses channel requires SES_REGION"))
		}
		if (c.SES.AccessKeyID == "") != (c.SES.SecretAccessKey == "") {
			errs = append(errs, errors.New("SES access key id and secret must be set together"))
		}
	case ChannelGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph channel requires tenant id, client id and client secret"))
		}
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Sender = "sender@test.invalid"
	c.Channel = ChannelSMTP
	c.SMTP.Server = "localhost"
	c.Delay.Step = 0.2
	c.Delay.Max = 5.0
	c.Inputs.BackconnectDomain = "localhost"
	c.Sink.Listen = ":2525"
	c.Sink.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		c.SMTP.Server = v
	}
	if v := os.Getenv("SMTP_HELO"); v != "" {
		c.SMTP.Helo = v
	}
	if v := os.Getenv("SMTP_STARTTLS"); v != "" {
		c.SMTP.StartTLS = parseBool(v, c.SMTP.StartTLS)
	}
	if v := os.Getenv("SENDER"); v != "" {
		c.Sender = v
	}
	if v := os.Getenv("RECIPIENTS"); v != "" {
		c.Recipients = splitList(v)
	}
	if v := os.Getenv("CHANNEL"); v != "" {
		c.Channel = strings.ToLower(v)
	}

	if v := os.Getenv("DELAY"); v != "" {
		c.Delay.Initial = parseFloat(v, c.Delay.Initial)
	}
	if v := os.Getenv("AUTO_DELAY"); v != "" {
		c.Delay.Auto = parseBool(v, c.Delay.Auto)
	}
	if v := os.Getenv("DELAY_STEP"); v != "" {
		c.Delay.Step = parseFloat(v, c.Delay.Step)
	}
	if v := os.Getenv("DELAY_MAX"); v != "" {
		c.Delay.Max = parseFloat(v, c.Delay.Max)
	}

	if v := os.Getenv("RESULT_LOG"); v != "" {
		c.Output.ResultLog = v
	}
	if v := os.Getenv("OUTPUT"); v != "" {
		c.Output.Path = v
	}
	if v := os.Getenv("OUTPUT_FORMAT"); v != "" {
		c.Output.Format = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_MAILBOX"); v != "" {
		c.Graph.Mailbox = v
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}
	if v := os.Getenv("TLS_INSECURE_SKIP_VERIFY"); v != "" {
		c.TLS.InsecureSkipVerify = parseBool(v, c.TLS.InsecureSkipVerify)
	}

	if v := os.Getenv("SINK_LISTEN"); v != "" {
		c.Sink.Listen = v
	}
	if v := os.Getenv("SINK_USERNAME"); v != "" {
		c.Sink.Username = v
	}
	if v := os.Getenv("SINK_PASSWORD"); v != "" {
		c.Sink.Password = v
	}
	if v := os.Getenv("SINK_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Sink.MaxMessageSize = size
		}
	}
	if v := os.Getenv("SINK_SMTPUTF8"); v != "" {
		c.Sink.SMTPUTF8 = parseBool(v, c.Sink.SMTPUTF8)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
