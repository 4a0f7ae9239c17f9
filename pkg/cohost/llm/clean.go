package llm

import (
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

	// thoughtPatterns strip narration that local reasoning models leak into
	// the final answer. Applied in order, case-insensitive, dot matches newline.
	thoughtPatterns = compileAll(
		`Alright,\s*I\s*just\s*got\s*a\s*message.*?saying,\s*"|So,\s*they're\s*greeting\s*me.*?\.`,
		`I\s*need\s*to\s*respond.*?\.`,
		`First,\s*I\s*should.*?\.`,
		`Maybe\s*start\s*with.*?\.`,
		`Then,\s*(?:I\s*should|address).*?\.`,
		`Next,\s*I\s*should.*?\.`,
		`That\s*way.*?\.`,
		`Since\s*I\s*don't\s*have\s*feelings.*?\.`,
		`Okay,\s*so\s*I'm\s*trying\s*to\s*figure\s*out.*?\.`,
		`The\s*user\s*sent\s*a\s*message\s*saying.*?and\s*the\s*response.*?\.`,
		`Hmm,\s*let's\s*break\s*this\s*down.*?\.`,
		`(?:Okay|Alright|Well|So),\s*(?:let's|I'm|I'll).*?\.`,
		`I\s*(?:think|believe|feel|should).*?\.`,
		`Let\s*me.*?\.`,
		`(?:First|Then|Next|Finally),.*?\.`,
		`As\s*(?:a|an|the)\s*(?:AI|co-host|assistant).*?\.`,
		`My\s*role\s*is.*?\.`,
	)

	xmlTag          = regexp.MustCompile(`<[^>]+>`)
	repeatedQuotes  = regexp.MustCompile(`"{2,}`)
	whitespace      = regexp.MustCompile(`\s+`)
	quotedExample   = regexp.MustCompile(`"[^"]*?"(?:\s*and|\s*or|\s*but)?`)
	leadingJunction = regexp.MustCompile(`^\s*(?:and|or|but)\s+`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?is)` + p)
	}
	return out
}

// Clean strips reasoning artifacts from a completion so it can be posted to
// chat and spoken as-is.
func Clean(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	for _, re := range thoughtPatterns {
		text = re.ReplaceAllString(text, "")
	}

	text = xmlTag.ReplaceAllString(text, "")
	text = repeatedQuotes.ReplaceAllString(text, `"`)
	text = whitespace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, `"`) && strings.Count(text, `"`) == 1 {
		text = text[1:]
	}

	text = quotedExample.ReplaceAllString(text, "")
	text = leadingJunction.ReplaceAllString(text, "")
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))

	// A completion cut off by max_tokens often ends mid-sentence.
	if strings.HasSuffix(text, "...") || strings.HasSuffix(text, ",") {
		text = strings.TrimRight(text, ".!?, ")
	}
	return text
}
