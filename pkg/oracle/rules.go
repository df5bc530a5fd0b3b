package oracle

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/entrhq/gridscout/pkg/browser"
)

var (
	blockedPattern    = regexp.MustCompile(`captcha|access denied|403 forbidden|are you a robot|verify you are human|request blocked`)
	noResultsPattern  = regexp.MustCompile(`no (results|records|matches|documents) (were )?found|returned 0 (results|records)`)
	acceptPattern     = regexp.MustCompile(`^(i )?(accept|agree|acknowledge|continue|proceed|ok|yes)\b|\b(i accept|i agree|accept terms|agree and continue)\b`)
	searchLinkPattern = regexp.MustCompile(`\b(search|official records|court records|records search)\b`)
	cssIdent          = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
)

// RuleOracle classifies snapshots with local heuristics. It needs no
// network access and serves offline runs and tests.
type RuleOracle struct{}

// NewRuleOracle creates a RuleOracle.
func NewRuleOracle() *RuleOracle {
	return &RuleOracle{}
}

// Decide implements Oracle.
func (RuleOracle) Decide(ctx context.Context, req Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(req.Snapshot))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	text := strings.ToLower(collapse(req.Text + " " + doc.Text()))

	if blockedPattern.MatchString(text) {
		return &Decision{Classification: ClassBlocked, Reasoning: "page asks for human verification or denies access"}, nil
	}

	skip := make(map[string]bool)
	for _, s := range req.ClickedSelectors {
		skip[s] = true
	}
	if req.RejectedSelector != "" {
		skip[req.RejectedSelector] = true
	}

	d := &Decision{Classification: ClassUnknown}
	var flags []Classification

	if grid := findGrid(doc, text); grid != nil {
		d.Grid = grid
		flags = append(flags, ClassResultsGrid)
	}
	if form := findSearchForm(doc); form != nil {
		d.Search = form
		flags = append(flags, ClassSearchPage)
	}
	if sel := findAcceptControl(doc, skip); sel != "" {
		d.Selector = sel
		flags = append(flags, ClassDisclaimer)
	}

	d.Classification = ResolveClassification(ClassUnknown, flags)
	switch d.Classification {
	case ClassResultsGrid:
		d.Reasoning = "page contains a results table"
	case ClassSearchPage:
		d.Reasoning = "page contains a search form"
	case ClassDisclaimer:
		d.Reasoning = "page asks for acceptance before continuing"
	default:
		d.Selector = findSearchLink(doc, skip)
		d.Reasoning = "no known page pattern matched"
	}
	return d, nil
}

func findGrid(doc *goquery.Document, text string) *Grid {
	var table *goquery.Selection
	var gridSelector string

	for _, sel := range browser.KnownGridSelectors {
		found := doc.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		t := found
		if goquery.NodeName(found) != "table" {
			t = found.Find("table").First()
		}
		if t.Length() > 0 && dataRows(t) > 0 {
			table, gridSelector = t, sel
			break
		}
	}

	if table == nil {
		best := 0
		doc.Find("table").Each(func(_ int, t *goquery.Selection) {
			if t.Find("th").Length() == 0 {
				return
			}
			if n := dataRows(t); n > best {
				best, table = n, t
			}
		})
		if table != nil {
			gridSelector = tableSelector(table)
		}
	}

	if table == nil {
		if noResultsPattern.MatchString(text) {
			return &Grid{NoResults: true}
		}
		return nil
	}

	grid := &Grid{GridSelector: gridSelector, RowSelector: "tr"}
	first := -1
	table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
		name := collapse(cell.Text())
		if name == "" && first == -1 {
			return
		}
		if first == -1 {
			first = i
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		grid.Columns = append(grid.Columns, Column{Name: name, Index: i})
	})
	if first > 0 {
		grid.FirstDataColumn = first
	}
	return grid
}

func dataRows(table *goquery.Selection) int {
	n := 0
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("td").Length() > 0 {
			n++
		}
	})
	return n
}

func tableSelector(t *goquery.Selection) string {
	if id, ok := t.Attr("id"); ok && id != "" {
		return idSelector(id)
	}
	if class, ok := t.Attr("class"); ok {
		if fields := strings.Fields(class); len(fields) > 0 && cssIdent.MatchString(fields[0]) {
			return "table." + fields[0]
		}
	}
	return "table"
}

func findSearchForm(doc *goquery.Document) *SearchForm {
	form := &SearchForm{}
	var dates []*goquery.Selection

	doc.Find(`input[type="text"], input[type="search"], input[type="date"], input:not([type])`).Each(func(_ int, in *goquery.Selection) {
		if isDateInput(in) {
			dates = append(dates, in)
			return
		}
		if form.QueryInput == "" {
			form.QueryInput = selectorFor(in)
		}
	})
	if form.QueryInput == "" {
		return nil
	}

	for _, in := range dates {
		hint := attrHint(in)
		switch {
		case form.StartDateInput == "" && containsAny(hint, "start", "from", "begin"):
			form.StartDateInput = selectorFor(in)
		case form.EndDateInput == "" && containsAny(hint, "end", "to", "thru", "through"):
			form.EndDateInput = selectorFor(in)
		}
	}
	for _, in := range dates {
		sel := selectorFor(in)
		if sel == form.StartDateInput || sel == form.EndDateInput {
			continue
		}
		if form.StartDateInput == "" {
			form.StartDateInput = sel
		} else if form.EndDateInput == "" {
			form.EndDateInput = sel
		}
	}

	submit := doc.Find(`button[type="submit"], input[type="submit"]`).First()
	if submit.Length() == 0 {
		doc.Find("button, input[type=button]").EachWithBreak(func(_ int, b *goquery.Selection) bool {
			if strings.Contains(strings.ToLower(controlText(b)), "search") {
				submit = b
				return false
			}
			return true
		})
	}
	if submit.Length() == 0 {
		return nil
	}
	form.SubmitButton = selectorFor(submit)
	return form
}

func isDateInput(in *goquery.Selection) bool {
	if t, _ := in.Attr("type"); t == "date" {
		return true
	}
	return containsAny(attrHint(in), "date", "datefrom", "dateto")
}

func attrHint(in *goquery.Selection) string {
	id, _ := in.Attr("id")
	name, _ := in.Attr("name")
	placeholder, _ := in.Attr("placeholder")
	return strings.ToLower(id + " " + name + " " + placeholder)
}

func findAcceptControl(doc *goquery.Document, skip map[string]bool) string {
	var found string
	doc.Find(`button, a, input[type="button"], input[type="submit"], [role="button"]`).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		label := strings.ToLower(controlText(el))
		if label == "" || !acceptPattern.MatchString(label) {
			return true
		}
		sel := selectorFor(el)
		if skip[sel] {
			return true
		}
		found = sel
		return false
	})
	return found
}

func findSearchLink(doc *goquery.Document, skip map[string]bool) string {
	var found string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.ToLower(controlText(a))
		if !searchLinkPattern.MatchString(label) {
			return true
		}
		sel := selectorFor(a)
		if skip[sel] {
			return true
		}
		found = sel
		return false
	})
	return found
}

func controlText(el *goquery.Selection) string {
	if goquery.NodeName(el) == "input" {
		v, _ := el.Attr("value")
		return collapse(v)
	}
	return collapse(el.Text())
}

// selectorFor builds a CSS selector for el, preferring id, then name,
// then visible text.
func selectorFor(el *goquery.Selection) string {
	tag := goquery.NodeName(el)
	if id, ok := el.Attr("id"); ok && id != "" {
		return idSelector(id)
	}
	if name, ok := el.Attr("name"); ok && name != "" {
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	}
	if tag == "input" {
		if v, ok := el.Attr("value"); ok && v != "" {
			return fmt.Sprintf(`input[value=%q]`, v)
		}
	}
	if text := collapse(el.Text()); text != "" {
		return fmt.Sprintf(`%s:has-text(%q)`, tag, text)
	}
	return tag
}

func idSelector(id string) string {
	if cssIdent.MatchString(id) {
		return "#" + id
	}
	return fmt.Sprintf(`[id=%q]`, id)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
