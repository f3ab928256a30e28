package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	fencedCode = regexp.MustCompile("```[\\s\\S]*?```")
	inlineCode = regexp.MustCompile("`[^`]+`")

	headerLine   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
	bulletMarker = regexp.MustCompile(`(?m)^[ \t]*[-•*][ \t]+`)
	numberMarker = regexp.MustCompile(`(?m)^[ \t]*(\d+)\.[ \t]+`)

	boldItalic  = regexp.MustCompile(`\*\*\*([^*]+)\*\*\*`)
	boldStar    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicStar  = regexp.MustCompile(`\*([^*]+)\*`)
	boldUnder   = regexp.MustCompile(`__([^_]+)__`)
	italicUnder = regexp.MustCompile(`_([^_]+)_`)

	excessBreaks = regexp.MustCompile(`\n{3,}`)
	placeholder  = regexp.MustCompile("\x00([0-9]+)\x00")
)

// CleanMarkdown turns model markdown into chat-style prose. Code spans and fenced
// blocks are returned unchanged.
func CleanMarkdown(text string) string {
	if text == "" {
		return text
	}

	var protected []string
	protect := func(match string) string {
		protected = append(protected, match)
		return "\x00" + strconv.Itoa(len(protected)-1) + "\x00"
	}
	text = fencedCode.ReplaceAllStringFunc(text, protect)
	text = inlineCode.ReplaceAllStringFunc(text, protect)

	text = headerLine.ReplaceAllString(text, "\n${1}\n")

	// Bullets go first so a leading "* " is not read as an italic marker.
	text = bulletMarker.ReplaceAllString(text, "• ")
	text = numberMarker.ReplaceAllString(text, "${1}. ")

	text = boldItalic.ReplaceAllString(text, "${1}")
	text = boldStar.ReplaceAllString(text, "${1}")
	text = italicStar.ReplaceAllString(text, "${1}")
	text = boldUnder.ReplaceAllString(text, "${1}")
	text = italicUnder.ReplaceAllString(text, "${1}")

	text = excessBreaks.ReplaceAllString(text, "\n\n")
	text = tidyLines(text)

	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(strings.Trim(match, "\x00"))
		if err != nil || idx >= len(protected) {
			return match
		}
		return protected[idx]
	})
}

// tidyLines keeps at most one blank line between paragraphs and trims blank
// lines at both ends.
func tidyLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		blank := strings.TrimSpace(line) == ""
		if !blank || (len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) != "") {
			kept = append(kept, strings.TrimRight(line, " \t\r"))
		}
	}
	for len(kept) > 0 && strings.TrimSpace(kept[0]) == "" {
		kept = kept[1:]
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	return strings.Join(kept, "\n")
}
