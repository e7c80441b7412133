package testcases

import (
	"bytes"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/shineum/mailprobe/internal/evasion"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

var badSuffixes = []string{
	"ade", "adp", "app", "asp", "bas", "bat", "bhx", "cab", "ceo", "chm",
	"cmd", "com", "cpl", "crt", "csr", "der", "exe", "fxp", "hlp", "hta",
	"inf", "ins", "isp", "its", "js", "jse", "lnk", "mad", "maf", "mag",
	"mam", "mar", "mas", "mat", "mde", "mim", "msc", "msi", "msp", "mst",
	"ole", "pcd", "pif", "reg", "scr", "sct", "shb", "shs", "vb", "vbe",
	"vbmacros", "vbs", "vsw", "wmd", "wmz", "ws", "wsc", "wsf", "wsh", "xxe",
	"docm", "xlsm",
}

var badFileContent = bytes.Repeat([]byte("foobar "), 100)

// attachment is one file a test sends.
type attachment struct {
	desc     string
	filename string
	data     []byte
}

// attachmentCases wraps every attachment into a multipart/mixed mail, once per
// variant the content_disposition evasion yields for it.
func attachmentCases(env plugin.Env, subject string, files iter.Seq[attachment]) iter.Seq[*message.Message] {
	gen := env.Evasions.Generator(evasion.ContentDispositionID)
	return func(yield func(*message.Message) bool) {
		for f := range files {
			part := message.Application(f.data)
			for variant, p := range gen(part, f.filename) {
				s := fmt.Sprintf(subject, f.desc)
				if variant != "" {
					s += " (" + variant + ")"
				}
				msg := message.New(message.Multipart("mixed",
					message.Text("This mail contains an attachment.", "plain"),
					p.Clone(),
				))
				msg.Header.Add("Subject", s)
				if !yield(msg) {
					return
				}
			}
		}
	}
}

func attachmentsUnit() plugin.Unit {
	return unit("attachments",
		plugin.Test{
			ID:          "bad_filetypes",
			Name:        "Bad File Types",
			Description: "Attach files with known bad suffixes",
			Active:      true,
			Generate: func(env plugin.Env) iter.Seq[*message.Message] {
				return attachmentCases(env, "Known bad attachment type - %s", func(yield func(attachment) bool) {
					for _, suffix := range badSuffixes {
						if !yield(attachment{desc: suffix, filename: "badsuffix." + suffix, data: badFileContent}) {
							return
						}
					}
				})
			},
		},
		plugin.Test{
			ID:          "malware",
			Name:        "Malware Samples",
			Description: "Attach malware samples from folders given by --malware-folder parameter",
			Active:      true,
			Generate: func(env plugin.Env) iter.Seq[*message.Message] {
				return attachmentCases(env, "Malware sample - %s", folderFiles(env.Options.MalwareFolders, "*"))
			},
		},
	)
}

// folderFiles yields the regular files of every folder matching pattern,
// sorted by name within a folder. Unreadable files are logged and skipped.
func folderFiles(folders []string, pattern string) iter.Seq[attachment] {
	return func(yield func(attachment) bool) {
		for _, folder := range folders {
			paths, err := filepath.Glob(filepath.Join(folder, pattern))
			if err != nil {
				slog.Warn("invalid sample folder", "folder", folder, "error", err)
				continue
			}
			sort.Strings(paths)

			for _, path := range paths {
				info, err := os.Stat(path)
				if err != nil || !info.Mode().IsRegular() {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					slog.Warn("failed to read sample", "path", path, "error", err)
					continue
				}
				name := filepath.Base(path)
				if !yield(attachment{desc: name, filename: name, data: data}) {
					return
				}
			}
		}
	}
}
