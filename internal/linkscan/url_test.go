package linkscan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases scheme and host", in: "HTTPS://Example.COM/Path", want: "https://example.com/Path"},
		{name: "strips default http port", in: "http://example.com:80/a", want: "http://example.com/a"},
		{name: "strips default https port", in: "https://example.com:443/a", want: "https://example.com/a"},
		{name: "keeps explicit port", in: "http://example.com:8080/a", want: "http://example.com:8080/a"},
		{name: "drops fragment", in: "https://example.com/a#section", want: "https://example.com/a"},
		{name: "sorts query keys", in: "https://example.com/a?b=2&a=1", want: "https://example.com/a?a=1&b=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveRef(t *testing.T) {
	t.Parallel()

	page := "https://example.com/blog/post"

	cases := []struct {
		name    string
		href    string
		want    string
		wantErr bool
	}{
		{name: "absolute", href: "https://other.com/x", want: "https://other.com/x"},
		{name: "relative path", href: "next", want: "https://example.com/blog/next"},
		{name: "rooted path", href: "/about", want: "https://example.com/about"},
		{name: "protocol relative", href: "//cdn.example.com/x.png", want: "https://cdn.example.com/x.png"},
		{name: "surrounding whitespace", href: "  /about  ", want: "https://example.com/about"},
		{name: "mailto rejected", href: "mailto:hi@example.com", wantErr: true},
		{name: "javascript rejected", href: "javascript:void(0)", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveRef(page, tc.href)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	require.True(t, SameOrigin("https://example.com/a", "https://example.com/b"))
	require.True(t, SameOrigin("https://EXAMPLE.com/a", "https://example.COM/b"))
	require.False(t, SameOrigin("https://example.com/a", "http://example.com/a"))
	require.False(t, SameOrigin("https://example.com/a", "https://sub.example.com/a"))
	require.False(t, SameOrigin("https://example.com/a", "https://example.com:8443/a"))
}

func TestHostnameAndPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Hostname("https://Example.com:8080/x"))
	require.Equal(t, "", Hostname("://bad"))
	require.Equal(t, "/x/y", Path("https://example.com/x/y"))
	require.Equal(t, "/", Path("https://example.com"))
}
