package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"
)

// WriteHTML renders the report as a standalone HTML page.
func WriteHTML(w io.Writer, r Report) error {
	funcMap := template.FuncMap{
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return "n/a"
			}
			return t.Local().Format("2006-01-02 15:04:05 MST")
		},
		"fmtDur":   humanizeDuration,
		"fmtBytes": fmtBytesStr,
		"fmtI64":   func(n int64) string { return addThousands(strconv.FormatInt(n, 10)) },
		"fmtF1":    func(f float64) string { return fmtFloatPrecSep(f, 1) },
		"fmtF2":    func(f float64) string { return fmtFloatPrecSep(f, 2) },
		"join":     strings.Join,
		// badge maps a confidence or priority label to a CSS class.
		"badge": func(label string) string {
			switch label {
			case "high":
				return "good"
			case "medium":
				return "info"
			default:
				return "warn"
			}
		},
	}

	tmpl, err := template.New("report").Funcs(funcMap).Parse(reportHTML)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	return tmpl.Execute(w, r)
}

//go:embed template.html
var reportHTML string
