package browser

// KnownGridSelectors lists results-grid containers seen across county
// record portals, most specific first. Replay tries them after the
// selectors discovered during exploration.
var KnownGridSelectors = []string{
	"#RsltsGrid",
	".t-grid",
	".t-grid-content",
	"#resultsTable",
	"#resultsTable_wrapper",
	".search-results__results-wrap",
	".a11y-table",
	".custom-table",
	".table-responsive table",
	"table.align-middle",
	".ig_ElectricBlueControl",
	"[id*='_g_G1']",
	"#SearchGrid",
	"#grdSearchResults",
	"#gridMain",
	"table.dataTable",
}

// MergeSelectors returns the selectors in order with blanks and duplicates
// removed.
func MergeSelectors(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
