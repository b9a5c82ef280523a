package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Format names one renderer.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps user input, including common aliases, onto a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown report format %q (want json, yaml or markdown)", s)
}

func (f Format) extension() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "md"
	default:
		return "json"
	}
}

// Render serializes the report in the given format. JSON is the canonical
// shape; YAML and Markdown are derived views.
func Render(r *Report, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatYAML:
		return yaml.Marshal(r)
	case FormatMarkdown:
		return renderMarkdown(r)
	}
	return nil, fmt.Errorf("unknown report format %q", f)
}

// WriteFiles renders each requested format under dir/<runID>/report.<ext>,
// written atomically. Returns the paths written.
func WriteFiles(r *Report, dir string, formats []Format) ([]string, error) {
	runDir := filepath.Join(dir, string(r.RunID))
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	var paths []string
	for _, f := range formats {
		data, err := Render(r, f)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(runDir, "report."+f.extension())
		if err := renameio.WriteFile(path, data, 0o640); err != nil {
			return paths, fmt.Errorf("writing %s report: %w", f, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"seconds": func(d time.Duration) string { return fmt.Sprintf("%.1fs", d.Seconds()) },
	"jsonBlock": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		return string(data), err
	},
}).Parse(`# pgmedic analysis report

- **Run**: {{.RunID}}
- **Server**: {{if .ServerAddr}}{{.ServerAddr}}{{else}}(host only){{end}}
- **Started**: {{rfc3339 .StartedAt}}
- **Finished**: {{rfc3339 .FinishedAt}}
- **Status**: {{.Status}}

## Protection

{{if .Protection.Enabled -}}
| Samples | Skipped | Violations | Peak CPU | Peak memory |
|--------:|--------:|-----------:|---------:|------------:|
| {{.Protection.SamplesTaken}} | {{.Protection.SamplesSkipped}} | {{.Protection.ViolationCount}} | {{printf "%.1f%%" .Protection.PeakCPUPercent}} | {{printf "%.1f%%" .Protection.PeakMemoryPercent}} |
{{- else -}}
Protection was disabled for this run.
{{- end}}
{{if .Violations}}
## Violations

| Time | Metric | Observed | Threshold |
|------|--------|---------:|----------:|
{{- range .Violations}}
| {{rfc3339 .Timestamp}} | {{.Metric}} | {{printf "%.1f" .Observed}} | {{printf "%.1f" .Threshold}} |
{{- end}}
{{end}}
{{- if .SkippedPhases}}
Skipped phases: {{range $i, $k := .SkippedPhases}}{{if $i}}, {{end}}{{$k}}{{end}}
{{end}}
{{- if .Warnings}}
## Warnings
{{range .Warnings}}
- {{.}}
{{- end}}
{{end}}
## Phases
{{range .Phases}}
### {{.Title}} ({{.Key}})

Status: {{.Status}}{{if ne .Status "skipped"}} in {{seconds .Duration}}{{end}}
{{- if .Warning}}

> {{.Warning}}
{{- end}}
{{- if .Findings}}

` + "```json\n{{jsonBlock .Findings}}\n```" + `
{{- end}}
{{end}}`))

func renderMarkdown(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdownTmpl.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("rendering markdown report: %w", err)
	}
	return buf.Bytes(), nil
}
