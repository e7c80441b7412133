package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/shineum/mailprobe/internal/plugin"
)

// printCatalog writes the discovered tests and evasions as two tables.
func printCatalog(w io.Writer, catalog *plugin.Catalog) error {
	fmt.Fprintln(w, "Tests:")
	tests := newTable(w, "ID", "Name", "Description")
	for _, t := range catalog.Tests() {
		tests.Append([]string{t.ID, t.Name, t.Description})
	}
	tests.Render()

	fmt.Fprintln(w, "\nEvasions:")
	evasions := newTable(w, "ID", "Name", "Description")
	for _, e := range catalog.Evasions() {
		evasions.Append([]string{e.ID, e.Name, e.Description})
	}
	evasions.Render()
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}
