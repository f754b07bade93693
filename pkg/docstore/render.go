package docstore

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders memo bodies. Raw HTML in model output is dropped.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML renders doc as a standalone HTML page for upload: title,
// metadata header, summary and body.
func RenderHTML(doc Document) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>%s</title></head><body>\n", html.EscapeString(doc.Title))
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(doc.Title))

	if meta := metadataRows(doc); len(meta) > 0 {
		b.WriteString("<p>")
		for i, row := range meta {
			if i > 0 {
				b.WriteString("<br>")
			}
			fmt.Fprintf(&b, "<b>%s:</b> %s", row[0], html.EscapeString(row[1]))
		}
		b.WriteString("</p>\n")
	}

	if s := strings.TrimSpace(doc.Summary); s != "" {
		fmt.Fprintf(&b, "<h2>Summary</h2>\n<p>%s</p>\n", html.EscapeString(s))
	}
	b.WriteString("<hr>\n")
	if err := markdown.Convert([]byte(doc.Content), &b); err != nil {
		return nil, fmt.Errorf("rendering memo body: %w", err)
	}
	b.WriteString("</body></html>\n")
	return b.Bytes(), nil
}

func metadataRows(doc Document) [][2]string {
	var rows [][2]string
	if doc.Category != "" {
		rows = append(rows, [2]string{"Meeting type", doc.Category})
	}
	if doc.CompanyName != "" {
		rows = append(rows, [2]string{"Company", doc.CompanyName})
	}
	if doc.MeetingDate != nil && !doc.MeetingDate.IsZero() {
		rows = append(rows, [2]string{"Date", doc.MeetingDate.UTC().Format("January 2, 2006")})
	}
	if len(doc.Participants) > 0 {
		rows = append(rows, [2]string{"Participants", strings.Join(doc.Participants, ", ")})
	}
	return rows
}

// FileName is the document name used in the folder.
func FileName(doc Document) string {
	name := strings.TrimSpace(doc.Title)
	if name == "" {
		name = "Meeting memo"
	}
	if doc.MeetingDate != nil && !doc.MeetingDate.IsZero() && !strings.Contains(name, doc.MeetingDate.UTC().Format(time.DateOnly)) {
		name = doc.MeetingDate.UTC().Format(time.DateOnly) + " " + name
	}
	return name
}
