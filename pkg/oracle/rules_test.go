package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const disclaimerSnapshot = `<div id="terms" class="modal">
  <p>By using this site you agree to the terms below.</p>
  <a href="/help">Help</a>
  <button id="btnAccept">I Accept</button>
  <button id="btnDecline">Decline</button>
</div>`

const searchSnapshot = `<form action="/search" method="post">
  <input id="txtName" name="name" type="text" placeholder="Last, First">
  <input id="txtDateFrom" name="dateFrom" type="text">
  <input id="txtDateTo" name="dateTo" type="text">
  <input id="btnSearch" type="submit" value="Search">
</form>`

const gridSnapshot = `<form action="/search"><input id="txtName" type="text"><button type="submit">Search</button></form>
<div id="RsltsGrid"><table>
  <thead><tr><th></th><th>Party Name</th><th>Record Date</th><th>Doc Type</th></tr></thead>
  <tbody>
    <tr><td><input type="checkbox"></td><td>SMITH JOHN</td><td>01/02/2024</td><td>DEED</td></tr>
    <tr><td><input type="checkbox"></td><td>SMITH JANE</td><td>01/03/2024</td><td>MTG</td></tr>
  </tbody>
</table></div>`

func decide(t *testing.T, req Request) *Decision {
	t.Helper()
	d, err := NewRuleOracle().Decide(context.Background(), req)
	require.NoError(t, err)
	return d
}

func TestRuleOracleDisclaimer(t *testing.T) {
	d := decide(t, Request{Snapshot: disclaimerSnapshot})
	assert.Equal(t, ClassDisclaimer, d.Classification)
	assert.Equal(t, "#btnAccept", d.Selector)
}

func TestRuleOracleSkipsClickedSelectors(t *testing.T) {
	page := disclaimerSnapshot + `<a id="lnkContinue" href="#">Continue</a>`

	d := decide(t, Request{Snapshot: page, ClickedSelectors: []string{"#btnAccept"}})
	assert.Equal(t, ClassDisclaimer, d.Classification)
	assert.Equal(t, "#lnkContinue", d.Selector)

	d = decide(t, Request{Snapshot: page, ClickedSelectors: []string{"#btnAccept"}, RejectedSelector: "#lnkContinue"})
	assert.NotEqual(t, "#btnAccept", d.Selector)
	assert.NotEqual(t, "#lnkContinue", d.Selector)
}

func TestRuleOracleSearchForm(t *testing.T) {
	d := decide(t, Request{Snapshot: searchSnapshot})
	assert.Equal(t, ClassSearchPage, d.Classification)
	require.NotNil(t, d.Search)
	assert.Equal(t, "#txtName", d.Search.QueryInput)
	assert.Equal(t, "#txtDateFrom", d.Search.StartDateInput)
	assert.Equal(t, "#txtDateTo", d.Search.EndDateInput)
	assert.Equal(t, "#btnSearch", d.Search.SubmitButton)
}

func TestRuleOracleGridWinsOverSearch(t *testing.T) {
	d := decide(t, Request{Snapshot: gridSnapshot})
	assert.Equal(t, ClassResultsGrid, d.Classification)
	require.NotNil(t, d.Grid)
	assert.Equal(t, "#RsltsGrid", d.Grid.GridSelector)
	assert.Equal(t, 1, d.Grid.FirstDataColumn)
	require.Len(t, d.Grid.Columns, 3)
	assert.Equal(t, "Party Name", d.Grid.Columns[0].Name)
	assert.Equal(t, 1, d.Grid.Columns[0].Index)
	assert.NotNil(t, d.Search)
}

func TestRuleOracleBlocked(t *testing.T) {
	d := decide(t, Request{Snapshot: `<div><p>Please complete the CAPTCHA to continue</p><button>Continue</button></div>`})
	assert.Equal(t, ClassBlocked, d.Classification)
}

func TestRuleOracleNoResults(t *testing.T) {
	d := decide(t, Request{Snapshot: `<div><p>No records found for your search.</p></div>`})
	assert.Equal(t, ClassResultsGrid, d.Classification)
	require.NotNil(t, d.Grid)
	assert.True(t, d.Grid.NoResults)
}

func TestRuleOracleUnknownSuggestsSearchLink(t *testing.T) {
	d := decide(t, Request{Snapshot: `<nav><a href="/about">About</a><a id="navSearch" href="/search">Search Records</a></nav>`})
	assert.Equal(t, ClassUnknown, d.Classification)
	assert.Equal(t, "#navSearch", d.Selector)
}
