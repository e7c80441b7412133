// Package evasion provides content mutation strategies that test cases apply
// to individual MIME parts.
package evasion

import (
	"fmt"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

// ContentDispositionID identifies the Content-Disposition evasion.
const ContentDispositionID = "content_disposition"

// dispositionVariant renders one Content-Disposition header for a file name.
type dispositionVariant struct {
	desc   string
	render func(filename string) string
}

func literal(format string) func(string) string {
	return func(filename string) string {
		return fmt.Sprintf(format, filename)
	}
}

func constant(value string) func(string) string {
	return func(string) string { return value }
}

// wellFormed is the only variant used when the evasion is disabled.
var wellFormed = []dispositionVariant{
	{"", literal(`attachment; filename="%s"`)},
}

var broken = []dispositionVariant{
	{"Filename with single quotes", literal("attachment; filename='%s'")},
	{"Filename without quotes", literal("attachment; filename=%s")},
	{"Empty filename", constant(`attachment; filename=""`)},
	{"Without filename", constant("attachment")},
	{"Double filename, harmless first", literal(`attachment; filename="harmless.txt"; filename="%s"`)},
	{"Double filename, harmless last", literal(`attachment; filename="%s"; filename="harmless.txt"`)},
	{"Inline without filename", constant("inline")},
	{"Inline with filename", literal(`inline; filename="%s"`)},
}

// ContentDisposition describes the evasion that breaks the Content-Disposition
// header of attachments, which some scanners need to recognize them.
func ContentDisposition() plugin.Evasion {
	return plugin.Evasion{
		ID:          ContentDispositionID,
		Name:        "Content-Disposition Header Variation",
		Description: "Try to evade attachment recognition by intentionally broken MIME Content-Disposition headers",
		Active:      true,
		Evasive:     dispositionGenerator(append(append([]dispositionVariant(nil), wellFormed...), broken...)),
		Default:     dispositionGenerator(wellFormed),
	}
}

// dispositionGenerator replaces the Content-Disposition header of the part
// with every variant in turn. The first arg is the attachment file name.
func dispositionGenerator(variants []dispositionVariant) plugin.GeneratorFunc {
	return func(part *message.Entity, args ...string) plugin.Generator {
		filename := ""
		if len(args) > 0 {
			filename = args[0]
		}

		return func(yield func(string, *message.Entity) bool) {
			for _, v := range variants {
				part.Header.Del("Content-Disposition")
				part.Header.Add("Content-Disposition", v.render(filename))
				if !yield(v.desc, part) {
					return
				}
			}
		}
	}
}

// Unit exposes the evasions of this package to plugin discovery.
func Unit() plugin.Unit {
	return plugin.Unit{
		Name: "evasion",
		Load: func() (plugin.Contribution, error) {
			return plugin.Contribution{Evasions: []plugin.Evasion{ContentDisposition()}}, nil
		},
	}
}
