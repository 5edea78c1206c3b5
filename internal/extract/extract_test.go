package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<h1 class="title">Hello</h1>
<ul><li>one</li><li>two</li></ul>
</body></html>`

func TestValidateSelector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		selector string
		wantErr  bool
	}{
		{"empty", "", false},
		{"blank", "   ", false},
		{"tag", "h1", false},
		{"group", "h1.title, ul > li", false},
		{"unbalanced", "div[", true},
		{"dangling id", "#", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSelector(tt.selector)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSelectEmptySelectorReturnsPage(t *testing.T) {
	t.Parallel()

	got, err := Select(page, "")
	require.NoError(t, err)
	require.Equal(t, page, got)
}

func TestSelectReturnsOuterHTML(t *testing.T) {
	t.Parallel()

	got, err := Select(page, "h1.title")
	require.NoError(t, err)
	require.Equal(t, `<h1 class="title">Hello</h1>`, got)

	got, err = Select(page, "li")
	require.NoError(t, err)
	require.Equal(t, "<li>one</li>\n<li>two</li>", got)
}

func TestSelectNoMatch(t *testing.T) {
	t.Parallel()

	_, err := Select(page, "table")
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestSelectInvalidSelector(t *testing.T) {
	t.Parallel()

	_, err := Select(page, "div[")
	require.ErrorContains(t, err, "invalid selector")
}

func TestSelectGroupKeepsDocumentOrder(t *testing.T) {
	t.Parallel()

	got, err := Select(page, "li, h1.title")
	require.NoError(t, err)
	require.Equal(t, "<h1 class=\"title\">Hello</h1>\n<li>one</li>\n<li>two</li>", got)
}
