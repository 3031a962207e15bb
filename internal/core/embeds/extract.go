package embeds

import (
	"regexp"
	"strings"
)

// urlPattern matches http(s) URLs up to whitespace, angle brackets or quotes
var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)

// ExtractURLs returns the http(s) URLs in text, deduplicated, in order of
// first appearance. Sentence punctuation stuck to the end of a URL is dropped.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		m = trimTrailingPunctuation(m)
		if len(m) <= len("https://") {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		urls = append(urls, m)
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

// closers pairs each closing bracket with its opener
var closers = map[byte]byte{')': '(', ']': '[', '}': '{'}

// trimTrailingPunctuation strips trailing punctuation. A closing bracket is
// kept when the URL contains its opener, e.g. wiki/Go_(programming_language).
func trimTrailingPunctuation(u string) string {
	for len(u) > 0 {
		last := u[len(u)-1]
		switch last {
		case '.', ',', '!', '?', ';', ':':
			u = u[:len(u)-1]
			continue
		case ')', ']', '}':
			opener := closers[last]
			if strings.Count(u, string(opener)) >= strings.Count(u, string(last)) {
				return u
			}
			u = u[:len(u)-1]
			continue
		}
		return u
	}
	return u
}
