package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	codeFencePattern  = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`]*`")
	linkPattern       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	listMarkerPattern = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+•]|\d{1,2}[.)])[ \t]+`)
)

var markupReplacer = strings.NewReplacer(
	"*", " ", "_", " ", "#", " ", "~", " ", "|", " ",
	"<", " ", ">", " ", "\\", " ", "/", " ",
)

// speakable rewrites a model reply into plain text for a synthesizer: markdown,
// code, URLs and pictographs are removed and whitespace is collapsed. Link
// labels are kept.
func speakable(reply string) string {
	s := strings.TrimSpace(reply)
	if s == "" {
		return ""
	}
	s = codeFencePattern.ReplaceAllString(s, " ")
	s = inlineCodePattern.ReplaceAllString(s, " ")
	s = linkPattern.ReplaceAllString(s, "$1")
	s = urlPattern.ReplaceAllString(s, " ")
	s = listMarkerPattern.ReplaceAllString(s, "")
	s = markupReplacer.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case unicode.In(r, unicode.Cc, unicode.Cf, unicode.Me, unicode.Variation_Selector):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		case unicode.IsPunct(r) && !strings.ContainsRune(`.,!?:;'"-()[]`, r):
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
