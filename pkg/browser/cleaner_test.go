package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const disclaimerPage = `<!DOCTYPE html>
<html>
<head><title>Official Records Search</title><script>var tracking = 1;</script><style>.x{}</style></head>
<body>
  <!-- banner -->
  <div id="disclaimer" class="modal">
    <p>Records are provided as is.</p>
    <button id="btnAccept" type="button" onclick="accept()">I Accept</button>
  </div>
  <input type="hidden" name="__VIEWSTATE" value="abc">
  <div style="display: none">secret</div>
  <form action="/search" method="post">
    <label for="txtName">Name</label>
    <input id="txtName" name="name" type="text" placeholder="Last, First">
  </form>
</body>
</html>`

func TestCleanSnapshotKeepsTargetingStructure(t *testing.T) {
	cleaned, err := CleanSnapshot(disclaimerPage, 0)
	require.NoError(t, err)

	assert.Equal(t, "Official Records Search", cleaned.Title)
	assert.False(t, cleaned.Truncated)

	out := cleaned.HTML
	assert.Contains(t, out, `<button id="btnAccept" type="button">I Accept</button>`)
	assert.Contains(t, out, `<input id="txtName" name="name" type="text" placeholder="Last, First">`)
	assert.Contains(t, out, `<label for="txtName">`)
	assert.Contains(t, out, `<form action="/search" method="post">`)
}

func TestCleanSnapshotDropsNoise(t *testing.T) {
	cleaned, err := CleanSnapshot(disclaimerPage, 0)
	require.NoError(t, err)

	out := cleaned.HTML
	assert.NotContains(t, out, "tracking")
	assert.NotContains(t, out, ".x{}")
	assert.NotContains(t, out, "banner")
	assert.NotContains(t, out, "__VIEWSTATE")
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "onclick")
}

func TestCleanSnapshotTruncates(t *testing.T) {
	page := "<html><body><p>" + strings.Repeat("record ", 200) + "</p></body></html>"

	cleaned, err := CleanSnapshot(page, 100)
	require.NoError(t, err)
	assert.True(t, cleaned.Truncated)
	assert.Contains(t, cleaned.HTML, "...")
}

func TestMergeSelectors(t *testing.T) {
	got := MergeSelectors([]string{"#grid", ""}, []string{"#grid", ".t-grid"}, KnownGridSelectors[:2])
	assert.Equal(t, []string{"#grid", ".t-grid", "#RsltsGrid"}, got)
}

func TestHeaderScriptQuotesSelector(t *testing.T) {
	script := HeaderScript(`[id*='_g_G1']`)
	assert.Contains(t, script, `document.querySelector("[id*='_g_G1']")`)
}
