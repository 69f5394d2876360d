package chat

import (
	"strings"

	"github.com/rivo/uniseg"
)

const titleMaxGraphemes = 50

// DeriveTitle builds a conversation title from the first user message:
// whitespace collapsed, truncated to 50 grapheme clusters with an ellipsis.
// Grapheme clusters, not bytes or runes, so emoji and combining marks never
// get split.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return "New conversation"
	}

	g := uniseg.NewGraphemes(title)
	var b strings.Builder
	count := 0
	for g.Next() {
		if count == titleMaxGraphemes {
			return b.String() + "…"
		}
		b.WriteString(g.Str())
		count++
	}
	return b.String()
}
