// Package report renders a verify.Report as a text table or a JSON
// document: olekukonko/tablewriter for the table, encoding/json for the
// document, each adapted to a fixed pair of report sections (archive-ids,
// backups) rather than a generic pluggable table shape.
package report

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/pgbackup/corebackup/pkg/verify"
)

// RenderText writes r as two left-aligned, borderless tables (one per
// archive-id, one per backup) followed by a one-line stanza summary.
func RenderText(w io.Writer, r *verify.Report) error {
	for _, msg := range r.Errors {
		if _, err := io.WriteString(w, "error: "+msg+"\n"); err != nil {
			return err
		}
	}

	archiveTable := newPlainTable(w, []string{"ARCHIVE-ID", "MISSING", "CHECKSUM-INVALID", "SIZE-INVALID", "WAL-INVALID", "OTHER"})
	for _, a := range r.Archives {
		archiveTable.Append(countsRow(a.ArchiveID, a.Counts))
	}
	archiveTable.Render()

	backupTable := newPlainTable(w, []string{"BACKUP", "STATUS", "MISSING", "CHECKSUM-INVALID", "SIZE-INVALID", "WAL-INVALID", "OTHER"})
	for _, b := range r.Backups {
		row := append([]string{b.Label, b.Status.String()}, countsRow("", b.Counts)[1:]...)
		backupTable.Append(row)
	}
	backupTable.Render()

	status := "ok"
	if !r.OK() {
		status = "error"
	}
	_, err := io.WriteString(w, "stanza: "+boolString(r.StanzaOK)+"  status: "+status+"\n")
	return err
}

func newPlainTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func countsRow(label string, c verify.Counts) []string {
	return []string{
		label,
		strconv.Itoa(c.Missing),
		strconv.Itoa(c.ChecksumInvalid),
		strconv.Itoa(c.SizeInvalid),
		strconv.Itoa(c.WALInvalid),
		strconv.Itoa(c.Other),
	}
}

func boolString(b bool) string {
	if b {
		return "ok"
	}
	return "error"
}

// document is the JSON-friendly shape of a verify.Report: Outcome/Status
// enums rendered as their String() form instead of their underlying int.
type document struct {
	Stanza   bool              `json:"stanza"`
	Status   string            `json:"status"`
	Errors   []string          `json:"errors,omitempty"`
	Archives []archiveDocument `json:"archives"`
	Backups  []backupDocument  `json:"backups"`
}

type archiveDocument struct {
	ArchiveID string     `json:"archiveId"`
	Counts    countsJSON `json:"counts"`
}

type backupDocument struct {
	Label  string     `json:"label"`
	Status string     `json:"status"`
	Counts countsJSON `json:"counts"`
}

type countsJSON struct {
	Missing         int `json:"missing"`
	ChecksumInvalid int `json:"checksumInvalid"`
	SizeInvalid     int `json:"sizeInvalid"`
	WALInvalid      int `json:"walInvalid"`
	Other           int `json:"other"`
}

func toCountsJSON(c verify.Counts) countsJSON {
	return countsJSON{
		Missing:         c.Missing,
		ChecksumInvalid: c.ChecksumInvalid,
		SizeInvalid:     c.SizeInvalid,
		WALInvalid:      c.WALInvalid,
		Other:           c.Other,
	}
}

// RenderJSON writes r as an indented JSON document.
func RenderJSON(w io.Writer, r *verify.Report) error {
	doc := document{
		Stanza: r.StanzaOK,
		Errors: r.Errors,
	}
	if r.OK() {
		doc.Status = "ok"
	} else {
		doc.Status = "error"
	}
	for _, a := range r.Archives {
		doc.Archives = append(doc.Archives, archiveDocument{ArchiveID: a.ArchiveID, Counts: toCountsJSON(a.Counts)})
	}
	for _, b := range r.Backups {
		doc.Backups = append(doc.Backups, backupDocument{Label: b.Label, Status: b.Status.String(), Counts: toCountsJSON(b.Counts)})
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}
