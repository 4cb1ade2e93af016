// Package imageref finds, classifies and fetches the image references that
// flow through an edit turn.
package imageref

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern       = regexp.MustCompile(`https?://\S+`)
	imageExtPattern  = regexp.MustCompile(`(?i)\.(png|jpe?g)$`)
	markdownImagePat = regexp.MustCompile(`!\[.*?\]\((https?://[^\s)]+)`)
)

// ExtractURLs returns every http(s) URL in text, in order of appearance.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// StripURLs removes every URL from text and trims the remainder.
func StripURLs(text string) string {
	return strings.TrimSpace(urlPattern.ReplaceAllString(text, ""))
}

// Dedup keeps the first occurrence of every entry.
func Dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Collect merges attached file URLs and URLs found in the instruction.
// Attachments come first.
func Collect(attached []string, instruction string) []string {
	all := make([]string, 0, len(attached))
	all = append(all, attached...)
	all = append(all, ExtractURLs(instruction)...)
	return Dedup(all)
}

// IsImageURL reports whether the path of u ends in a png or jpeg
// extension. Query and fragment are ignored, so signed links still count.
func IsImageURL(u string) bool {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return imageExtPattern.MatchString(p)
}

// LastMarkdownImage returns the URL of the last ![alt](url) reference in
// content.
func LastMarkdownImage(content string) (string, bool) {
	matches := markdownImagePat.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// MarkdownImages returns every markdown image URL in content, in order.
func MarkdownImages(content string) []string {
	matches := markdownImagePat.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
