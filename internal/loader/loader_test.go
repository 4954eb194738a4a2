package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForFilePicksByExtension(t *testing.T) {
	l, err := ForFile("notes.TXT")
	require.NoError(t, err)
	require.Contains(t, l.SupportedExts(), ".txt")

	_, err = ForFile("photo.png")
	require.Error(t, err)
}

func TestTextLoader(t *testing.T) {
	l, err := ForFile("notes.txt")
	require.NoError(t, err)

	pages, err := l.Load(strings.NewReader("  hello world\n"), "notes.txt")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, 1, pages[0].Number)
	require.Equal(t, "hello world", pages[0].Text)

	_, err = l.Load(strings.NewReader("   \n\t"), "empty.txt")
	require.Error(t, err)
}

func TestMarkdownLoaderStripsFormatting(t *testing.T) {
	l, err := ForFile("readme.md")
	require.NoError(t, err)

	src := "# Refund Policy\n\nItems can be returned within **30 days**.\n\n```\ncurl /refunds\n```\n"
	pages, err := l.Load(strings.NewReader(src), "readme.md")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Contains(t, pages[0].Text, "Refund Policy")
	require.Contains(t, pages[0].Text, "Items can be returned within 30 days.")
	require.Contains(t, pages[0].Text, "curl /refunds")
	require.NotContains(t, pages[0].Text, "**")
	require.NotContains(t, pages[0].Text, "#")
}

func TestMarkdownLoaderEmpty(t *testing.T) {
	l, err := ForFile("empty.md")
	require.NoError(t, err)
	_, err = l.Load(strings.NewReader("\n\n"), "empty.md")
	require.Error(t, err)
}
