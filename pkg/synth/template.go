package synth

import (
	"fmt"
	"strconv"
	"text/template"
	"unicode/utf8"
)

// quote renders s as a YAML double-quoted scalar. Go and YAML agree on the
// escapes strconv.Quote emits for valid UTF-8; invalid bytes would come back
// as different runes, so they are refused.
func quote(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("value %q is not valid UTF-8", s)
	}
	return strconv.Quote(s), nil
}

// planTemplate is the fixed artifact layout. Field order and quoting are
// stable so equal inputs render byte-identical output.
var planTemplate = template.Must(template.New("plan").Funcs(template.FuncMap{
	"q": quote,
}).Parse(`# gridscout replay plan
# args: <search_term> <start_date> <end_date>
site: {{q .Site}}
target_url: {{q .TargetURL}}
context:
  fresh: true
  viewport_width: {{.Context.ViewportWidth}}
  viewport_height: {{.Context.ViewportHeight}}
  navigation_timeout_ms: {{.Context.NavigationTimeoutMS}}
  element_timeout_ms: {{.Context.ElementTimeoutMS}}
steps:
{{- range .Steps}}
  - action: {{.Action}}
    target: {{q .Target}}
{{- if .Value}}
    value: {{q .Value}}
{{- end}}
{{- if .WaitAfterMS}}
    wait_after_ms: {{.WaitAfterMS}}
{{- end}}
{{- if .Description}}
    description: {{q .Description}}
{{- end}}
{{- end}}
grid:
  selectors:
{{- range .Grid.Selectors}}
    - {{q .}}
{{- end}}
  row_selector: {{q .Grid.RowSelector}}
  first_data_column: {{.Grid.FirstDataColumn}}
  timeout_ms: {{.Grid.TimeoutMS}}
output:
  columns:
{{- range .Output.Columns}}
    - name: {{q .Name}}
      index: {{.Index}}
{{- end}}
  formats: [json, csv]
`))
