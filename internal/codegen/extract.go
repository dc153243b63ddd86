package codegen

import (
	"regexp"
	"strings"
)

var anyFenceRe = regexp.MustCompile("(?s)```\\w*\\s*\n(.*?)```")

// ExtractCodeBlock returns the first fenced code block of the given
// language from text. With an empty language, or when no language-tagged
// block exists, the first fenced block of any language is returned. When
// the text contains no fences at all it is returned trimmed, as-is.
func ExtractCodeBlock(text, language string) string {
	if language != "" {
		re := regexp.MustCompile("(?s)```" + regexp.QuoteMeta(language) + "\\s*\n(.*?)```")
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}

	if m := anyFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	return strings.TrimSpace(text)
}

// ExtractCodeBlocks returns ALL fenced code blocks of the given language.
func ExtractCodeBlocks(text, language string) []string {
	re := regexp.MustCompile("(?s)```" + regexp.QuoteMeta(language) + "\\s*\n(.*?)```")
	matches := re.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}
	return blocks
}

// StripCodeFences removes leftover markdown fences the oracle sometimes
// wraps around an already-extracted block.
func StripCodeFences(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	for len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
