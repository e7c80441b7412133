package config

import (
	"errors"

	"github.com/spf13/pflag"
)

// RegisterFlags adds the run flags to fs. Defaults shown in the help text are
// the built-in defaults; ApplyFlags only copies flags the user set.
func RegisterFlags(fs *pflag.FlagSet) {
	d := &Config{}
	d.applyDefaults()

	fs.StringP("smtp-server", "s", d.SMTP.Server, "SMTP server that is tested")
	fs.StringP("sender", "f", d.Sender, "Sender address")
	fs.StringArrayP("to", "t", nil, "Recipient address. Multiple addresses can be given by repetition of parameter")
	fs.BoolP("send-one", "1", false, "Send one mail for all recipients instead of one per recipient")
	fs.String("channel", d.Channel, "Delivery channel: smtp, ses, graph or stdout")
	fs.String("helo", "", "Name sent in EHLO (default localhost)")
	fs.Bool("starttls", false, "Upgrade SMTP sessions with STARTTLS")

	fs.Float64P("delay", "d", d.Delay.Initial, "Delay delivery by given number of seconds after each mail")
	fs.BoolP("auto-delay", "D", false, "Automatically increase delay on 4xx errors, from --delay by --delay-step up to --delay-max")
	fs.Float64("delay-step", d.Delay.Step, "Delay increase in seconds on 4xx errors if --auto-delay is enabled")
	fs.Float64("delay-max", d.Delay.Max, "Automatic delay is not increased over this threshold in seconds")

	fs.StringArrayP("include-test", "i", nil, "Select tests (see --list for choices)")
	fs.StringArrayP("exclude-test", "x", nil, "Exclude tests (see --list for choices)")
	fs.StringArrayP("testcases", "T", nil, "Select test cases for execution, e.g. test:1,2,10-20")
	fs.StringArrayP("evasion", "e", nil, "Enable evasion modules")

	fs.StringP("log", "L", "", "Test result log in CSV format")
	fs.StringP("output", "o", "", "Dump tests into files in this path instead of delivering them")
	fs.BoolP("mbox", "m", false, "Dump test cases in mbox file format")
	fs.BoolP("maildir", "M", false, "Dump test cases in maildir directory")

	fs.StringP("backconnect-domain", "b", d.Inputs.BackconnectDomain, "Domain for test cases that need a backchannel, ideally one whose DNS queries are visible")
	fs.StringP("spoofed-sender", "F", "", "Address used for internal sender spoofing tests. Defaults to the recipient")
	fs.StringArray("spoofed-sender-list", nil, "File with addresses for internal sender spoofing tests")
	fs.StringArrayP("blacklist", "B", nil, "Files containing black lists, one address per line. Entries beginning with @ get the local part 'test'")
	fs.StringArrayP("spam-folder", "j", nil, "Folder with spam messages in EML format")
	fs.StringArrayP("malware-folder", "w", nil, "Folder with malware samples that are sent as attachment")

	fs.String("log-level", d.Logging.Level, "Log level: debug, info, warn or error")
}

// ApplyFlags overrides c with every flag of fs the user set explicitly.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil || !fs.Changed(name) {
			return
		}
		err = apply()
	}
	str := func(name string, dst *string) {
		set(name, func() (e error) { *dst, e = fs.GetString(name); return })
	}
	strs := func(name string, dst *[]string) {
		set(name, func() (e error) { *dst, e = fs.GetStringArray(name); return })
	}
	flag := func(name string, dst *bool) {
		set(name, func() (e error) { *dst, e = fs.GetBool(name); return })
	}
	float := func(name string, dst *float64) {
		set(name, func() (e error) { *dst, e = fs.GetFloat64(name); return })
	}

	str("smtp-server", &c.SMTP.Server)
	str("sender", &c.Sender)
	strs("to", &c.Recipients)
	flag("send-one", &c.SendOne)
	str("channel", &c.Channel)
	str("helo", &c.SMTP.Helo)
	flag("starttls", &c.SMTP.StartTLS)

	float("delay", &c.Delay.Initial)
	flag("auto-delay", &c.Delay.Auto)
	float("delay-step", &c.Delay.Step)
	float("delay-max", &c.Delay.Max)

	strs("include-test", &c.Selection.Include)
	strs("exclude-test", &c.Selection.Exclude)
	strs("testcases", &c.Selection.Cases)
	strs("evasion", &c.Selection.Evasions)

	str("log", &c.Output.ResultLog)
	str("output", &c.Output.Path)
	set("mbox", func() error {
		if on, e := fs.GetBool("mbox"); e != nil || !on {
			return e
		}
		c.Output.Format = ChannelMbox
		return nil
	})
	set("maildir", func() error {
		if on, e := fs.GetBool("maildir"); e != nil || !on {
			return e
		}
		c.Output.Format = ChannelMaildir
		return nil
	})

	str("backconnect-domain", &c.Inputs.BackconnectDomain)
	str("spoofed-sender", &c.Inputs.SpoofedSender)
	strs("spoofed-sender-list", &c.Inputs.SpoofedSenderLists)
	strs("blacklist", &c.Inputs.Blacklists)
	strs("spam-folder", &c.Inputs.SpamFolders)
	strs("malware-folder", &c.Inputs.MalwareFolders)

	str("log-level", &c.Logging.Level)

	return err
}

// RegisterSinkFlags adds the capture server flags to fs.
func RegisterSinkFlags(fs *pflag.FlagSet) {
	d := &Config{}
	d.applyDefaults()

	fs.String("listen", d.Sink.Listen, "Address the capture server listens on")
	fs.StringArray("rule", nil, "Recipient rule: pattern=code text, pattern=drop-rcpt or pattern=drop-data")
	fs.Bool("smtputf8", false, "Advertise the SMTPUTF8 extension")
	fs.Int64("max-message-size", d.Sink.MaxMessageSize, "Largest accepted message in bytes")
	fs.StringP("output", "o", "", "Store captured messages in this path")
	fs.BoolP("mbox", "m", false, "Store captured messages in an mbox file")
	fs.BoolP("maildir", "M", false, "Store captured messages in a maildir directory")
	fs.String("log-level", d.Logging.Level, "Log level: debug, info, warn or error")
}

// ApplySinkFlags overrides c with every capture server flag the user set.
func (c *Config) ApplySinkFlags(fs *pflag.FlagSet) error {
	var errs []error
	changed := func(name string) bool { return fs.Changed(name) }

	if changed("listen") {
		v, err := fs.GetString("listen")
		c.Sink.Listen = v
		errs = append(errs, err)
	}
	if changed("rule") {
		v, err := fs.GetStringArray("rule")
		c.Sink.Rules = v
		errs = append(errs, err)
	}
	if changed("smtputf8") {
		v, err := fs.GetBool("smtputf8")
		c.Sink.SMTPUTF8 = v
		errs = append(errs, err)
	}
	if changed("max-message-size") {
		v, err := fs.GetInt64("max-message-size")
		c.Sink.MaxMessageSize = v
		errs = append(errs, err)
	}
	if changed("output") {
		v, err := fs.GetString("output")
		c.Output.Path = v
		errs = append(errs, err)
	}
	for _, format := range []string{ChannelMbox, ChannelMaildir} {
		if !changed(format) {
			continue
		}
		on, err := fs.GetBool(format)
		if on {
			c.Output.Format = format
		}
		errs = append(errs, err)
	}
	if changed("log-level") {
		v, err := fs.GetString("log-level")
		c.Logging.Level = v
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
