package research

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/prismlab/prism/internal/blob"
)

// Charter scans report sections for numeric series and renders them as bar
// charts. Detection is purely mechanical, no model call: a series is either a
// markdown table with a numeric final column or a run of at least three
// "label: number" lines. Rendering the same report twice yields the same
// anchors in the same places.
type Charter struct {
	blobs  blob.Store
	logger *log.Logger
}

func NewCharter(blobs blob.Store) *Charter {
	return &Charter{
		blobs:  blobs,
		logger: log.New(log.Writer(), "[CHART] ", log.LstdFlags),
	}
}

type series struct {
	title  string
	labels []string
	values []float64
}

var (
	labelValueRe = regexp.MustCompile(`^[\s*-]*([^:|]{2,60}):\s*\$?(-?[0-9][0-9,]*\.?[0-9]*)\s*%?\s*$`)
	tableRowRe   = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)
	chartLineRe  = regexp.MustCompile(`(?m)^!\[[^\]]*\]\([^)]*\)\s*$\n?`)
)

// Run renders charts for every detected series and splices an image anchor at
// the end of the owning section. A chart that fails to render or upload is
// skipped; charts never fail the session.
func (c *Charter) Run(ctx context.Context, session *Session, report Report) Report {
	report.Charts = nil
	for i := range report.Sections {
		// Drop anchors from any previous render so the pass is repeatable.
		body := chartLineRe.ReplaceAllString(report.Sections[i].Body, "")
		report.Sections[i].Body = strings.TrimRight(body, "\n")

		found := detectSeries(report.Sections[i].Body)
		for n, s := range found {
			png, err := renderBarChart(s)
			if err != nil {
				c.logger.Printf("section %d chart %q: render failed: %v", report.Sections[i].Ordinal, s.title, err)
				continue
			}
			locator := fmt.Sprintf("sessions/%s/charts/section-%d-%d.png", session.ID, report.Sections[i].Ordinal, n)
			if err := c.blobs.Put(ctx, locator, png); err != nil {
				c.logger.Printf("section %d chart %q: upload failed: %v", report.Sections[i].Ordinal, s.title, err)
				continue
			}
			report.Sections[i].Body += fmt.Sprintf("\n\n![%s](%s)", s.title, locator)
			report.Charts = append(report.Charts, ChartRef{
				SectionOrdinal: report.Sections[i].Ordinal,
				Title:          s.title,
				Locator:        locator,
			})
		}
	}
	if len(report.Charts) > 0 {
		c.logger.Printf("rendered %d charts", len(report.Charts))
	}
	return report
}

// detectSeries finds chartable series in a section body, tables first, then
// label:number runs. Order of appearance is preserved.
func detectSeries(body string) []series {
	lines := strings.Split(body, "\n")
	var out []series

	var run series
	flushRun := func() {
		if len(run.values) >= 3 {
			run.title = seriesTitle(run)
			out = append(out, run)
		}
		run = series{}
	}

	var table series
	inTable := false
	flushTable := func() {
		if len(table.values) >= 2 {
			table.title = seriesTitle(table)
			out = append(out, table)
		}
		table = series{}
		inTable = false
	}

	for _, line := range lines {
		if m := tableRowRe.FindStringSubmatch(line); m != nil {
			flushRun()
			cells := strings.Split(m[1], "|")
			if len(cells) < 2 {
				continue
			}
			label := strings.TrimSpace(cells[0])
			last := strings.TrimSpace(cells[len(cells)-1])
			if strings.Contains(last, "---") || label == "" {
				inTable = true
				continue
			}
			if v, ok := parseNumber(last); ok {
				inTable = true
				table.labels = append(table.labels, label)
				table.values = append(table.values, v)
			}
			continue
		}
		if inTable {
			flushTable()
		}
		if m := labelValueRe.FindStringSubmatch(line); m != nil {
			if v, ok := parseNumber(m[2]); ok {
				run.labels = append(run.labels, strings.TrimSpace(m[1]))
				run.values = append(run.values, v)
				continue
			}
		}
		flushRun()
	}
	flushRun()
	if inTable {
		flushTable()
	}
	return out
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func seriesTitle(s series) string {
	if len(s.labels) == 0 {
		return "Series"
	}
	return fmt.Sprintf("%s to %s", s.labels[0], s.labels[len(s.labels)-1])
}

func renderBarChart(s series) ([]byte, error) {
	bars := make([]chart.Value, 0, len(s.values))
	for i, v := range s.values {
		label := s.labels[i]
		if len(label) > 16 {
			label = label[:16]
		}
		bars = append(bars, chart.Value{Label: label, Value: v})
	}
	graph := chart.BarChart{
		Title:    s.title,
		Width:    720,
		Height:   420,
		BarWidth: 40,
		Bars:     bars,
	}
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
