package search

import "strings"

const (
	// MaxExcerpts bounds how many results reach the prompt.
	MaxExcerpts = 3

	// ExcerptChars bounds each result's content, in characters.
	ExcerptChars = 200
)

// FormatResults renders resp as prompt context: an optional
// "Summary: <answer>" line followed by up to [MaxExcerpts] lines of
// "- <title>: <content>...", in provider order. Content is cut to
// [ExcerptChars] characters. The result is empty when there is neither
// an answer nor any result, which callers treat as no usable context.
func FormatResults(resp *Response) string {
	if resp == nil {
		return ""
	}

	var parts []string
	if resp.Answer != "" {
		parts = append(parts, "Summary: "+resp.Answer)
	}

	results := resp.Results
	if len(results) > MaxExcerpts {
		results = results[:MaxExcerpts]
	}
	for _, r := range results {
		parts = append(parts, "- "+r.Title+": "+truncate(r.Content, ExcerptChars)+"...")
	}

	return strings.Join(parts, "\n")
}

// truncate returns the first n characters of s without splitting a
// multi-byte rune.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
