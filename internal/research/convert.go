package research

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/prismlab/prism/internal/blob"
)

// Output formats a session can request. Markdown is canonical and always
// produced; the others are derived from it.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
)

// Converter renders the report into its requested formats and uploads each
// one. Formats fail independently: a broken PDF render still leaves the
// markdown and HTML artifacts in place.
type Converter struct {
	blobs  blob.Store
	md     goldmark.Markdown
	logger *log.Logger
}

func NewConverter(blobs blob.Store) *Converter {
	return &Converter{
		blobs:  blobs,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger: log.New(log.Writer(), "[CONVERT] ", log.LstdFlags),
	}
}

// Run produces every requested format plus canonical markdown. It returns
// format -> locator for the artifacts that succeeded and format -> reason for
// those that did not; every format is attempted regardless of the others.
// The error is non-nil only when the canonical markdown artifact could not be
// stored, and even then the remaining formats have already been tried.
func (c *Converter) Run(ctx context.Context, session *Session, report Report, formats []string) (map[string]string, map[string]string, error) {
	markdown := report.Markdown()
	artifacts := make(map[string]string)
	failures := make(map[string]string)

	var mdErr error
	mdLocator := fmt.Sprintf("sessions/%s/report-%s.md", session.ID, report.Version)
	if err := c.blobs.Put(ctx, mdLocator, []byte(markdown)); err != nil {
		mdErr = fmt.Errorf("storing markdown artifact: %w", err)
		c.logger.Printf("markdown upload failed: %v", err)
		failures[FormatMarkdown] = err.Error()
	} else {
		artifacts[FormatMarkdown] = mdLocator
	}

	for _, format := range formats {
		switch format {
		case FormatMarkdown:
			// handled above
		case FormatHTML:
			html, err := c.renderHTML(markdown)
			if err != nil {
				c.logger.Printf("html render failed: %v", err)
				failures[FormatHTML] = err.Error()
				continue
			}
			locator := fmt.Sprintf("sessions/%s/report-%s.html", session.ID, report.Version)
			if err := c.blobs.Put(ctx, locator, html); err != nil {
				c.logger.Printf("html upload failed: %v", err)
				failures[FormatHTML] = err.Error()
				continue
			}
			artifacts[FormatHTML] = locator
		case FormatPDF:
			pdfBytes, err := renderPDF(report)
			if err != nil {
				c.logger.Printf("pdf render failed: %v", err)
				failures[FormatPDF] = err.Error()
				continue
			}
			locator := fmt.Sprintf("sessions/%s/report-%s.pdf", session.ID, report.Version)
			if err := c.blobs.Put(ctx, locator, pdfBytes); err != nil {
				c.logger.Printf("pdf upload failed: %v", err)
				failures[FormatPDF] = err.Error()
				continue
			}
			artifacts[FormatPDF] = locator
		default:
			c.logger.Printf("unknown output format %q skipped", format)
			failures[format] = "unknown output format"
		}
	}
	return artifacts, failures, mdErr
}

func (c *Converter) renderHTML(markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &body); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	out.WriteString("<style>body{font-family:sans-serif;max-width:48rem;margin:2rem auto;line-height:1.5}img{max-width:100%}</style>\n")
	out.WriteString("</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

func renderPDF(report Report) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(report.Topic, true)
	doc.AddPage()

	heading := func(size float64, text string) {
		doc.SetFont("Helvetica", "B", size)
		doc.MultiCell(0, size/2, text, "", "L", false)
		doc.Ln(2)
	}
	paragraph := func(text string) {
		doc.SetFont("Helvetica", "", 11)
		doc.MultiCell(0, 5.5, text, "", "L", false)
		doc.Ln(3)
	}

	heading(18, report.Topic)
	if report.ExecutiveSummary != "" {
		heading(14, "Executive Summary")
		paragraph(report.ExecutiveSummary)
	}
	for _, s := range report.Sections {
		heading(14, s.Title)
		paragraph(stripAnchors(s.Body))
	}
	if report.Conclusions != "" {
		heading(14, "Conclusions")
		paragraph(report.Conclusions)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stripAnchors removes image anchors; the PDF renderer is text only.
func stripAnchors(body string) string {
	return strings.TrimSpace(chartLineRe.ReplaceAllString(body, ""))
}
