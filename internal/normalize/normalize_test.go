package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/itemrelay/internal/item"
)

func TestText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "collapse spaces", in: "Hello   world", want: "Hello world"},
		{name: "trim edges", in: "  \tpadded\n ", want: "padded"},
		{name: "per line", in: " line  one \n\t line   two ", want: "line one\nline two"},
		{name: "crlf", in: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "blank interior line kept", in: "a\n\n   b", want: "a\n\nb"},
		{name: "tabs and nbsp", in: "a\t b", want: "a b"},
		{name: "empty", in: "   ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Text(tt.in)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, Text(got), "normalization must be idempotent")
		})
	}
}

func TestItemNormalizesOnlyStrings(t *testing.T) {
	t.Parallel()

	it, err := item.FromPairs(
		"_id", "  https://x.com/a?utm=1 ",
		"title", "Hello   world",
		"count", 3,
		"tags", []any{"  keep  as is "},
	)
	require.NoError(t, err)

	Item(it)

	id, _ := it.GetString("_id")
	title, _ := it.GetString("title")
	count, _ := it.Get("count")
	tags, _ := it.Get("tags")
	assert.Equal(t, "https://x.com/a?utm=1", id)
	assert.Equal(t, "Hello world", title)
	assert.Equal(t, 3, count)
	assert.Equal(t, []any{"  keep  as is "}, tags)
	assert.Equal(t, []string{"_id", "title", "count", "tags"}, it.Keys())

	before, err := it.MarshalJSON()
	require.NoError(t, err)
	Item(it)
	after, err := it.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "tracking param", in: "https://x.com/a?utm=1", want: "https://x.com/a"},
		{name: "utm family", in: "https://x.com/a?utm_source=tw&utm_medium=social&id=7", want: "https://x.com/a?id=7"},
		{name: "click ids", in: "https://x.com/a?fbclid=abc&gclid=def&p=2", want: "https://x.com/a?p=2"},
		{name: "host case and port", in: "HTTPS://Example.COM:443/Path", want: "https://example.com/Path"},
		{name: "http port", in: "http://example.com:80/", want: "http://example.com/"},
		{name: "fragment", in: "https://x.com/a#section", want: "https://x.com/a"},
		{name: "sorted query", in: "https://x.com/a?b=2&a=1", want: "https://x.com/a?a=1&b=2"},
		{name: "non default port", in: "https://x.com:8443/a", want: "https://x.com:8443/a"},
		{name: "not a url", in: "article-1234", want: "article-1234"},
		{name: "no scheme", in: "x.com/a?utm=1", want: "x.com/a?utm=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := URL(tt.in)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, URL(got), "canonicalization must be idempotent")
		})
	}
}

func TestLooksLikeURL(t *testing.T) {
	t.Parallel()

	assert.True(t, LooksLikeURL("https://x.com"))
	assert.True(t, LooksLikeURL("see http://x.com"))
	assert.False(t, LooksLikeURL("ftp://x.com"))
	assert.False(t, LooksLikeURL("12345"))
}
