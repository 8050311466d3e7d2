package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLinksResolvesAndNormalizes(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body>
		<a href="/about">About</a>
		<a href="blog/post-1">Post</a>
		<a href="https://other.test/page#section">External</a>
		<a href="mailto:hi@example.com">Mail</a>
		<a href="javascript:void(0)">JS</a>
		<a href="#top">Top</a>
		<a href="">Empty</a>
		<a href="/about">About again</a>
	</body></html>`)

	links, err := ExtractLinks("https://example.com/section/", body)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/section/blog/post-1",
		"https://other.test/page",
	}, links)
}

func TestExtractLinksEmptyDocument(t *testing.T) {
	t.Parallel()

	links, err := ExtractLinks("https://example.com/", []byte("<html><body></body></html>"))
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	require.True(t, IsHTML("text/html"))
	require.True(t, IsHTML("text/html; charset=utf-8"))
	require.True(t, IsHTML("application/xhtml+xml"))
	require.False(t, IsHTML("application/pdf"))
	require.False(t, IsHTML("image/png"))
	require.False(t, IsHTML(""))
}
