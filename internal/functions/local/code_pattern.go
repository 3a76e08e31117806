package local

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// codePattern matches a standalone run of 4-8 ASCII digits.
// RE2's \d and \b are ASCII-only, so runs longer than 8 never match partially.
var codePattern = regexp.MustCompile(`\b\d{4,8}\b`)

// urlPattern matches absolute http(s) URLs in plain text or HTML attribute values
var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)

// DefaultLinkMarkers are the path tokens that identify a verification link
var DefaultLinkMarkers = []string{"verify", "code"}

// FindCode returns the first 4-8 digit run in document order
func FindCode(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	code := codePattern.FindString(text)
	return code, code != ""
}

// IsValidCode reports whether s is exactly 4-8 ASCII digits
func IsValidCode(s string) bool {
	if len(s) < 4 || len(s) > 8 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FindVerificationURL returns the first absolute http(s) URL whose path
// contains one of markers (case-insensitive). Empty markers fall back to
// DefaultLinkMarkers.
func FindVerificationURL(text string, markers []string) (string, bool) {
	if text == "" {
		return "", false
	}
	if len(markers) == 0 {
		markers = DefaultLinkMarkers
	}

	for _, raw := range urlPattern.FindAllString(text, -1) {
		candidate := strings.TrimRight(html.UnescapeString(raw), ".,;:!?)]")
		u, err := url.Parse(candidate)
		if err != nil || u.Host == "" {
			continue
		}
		path := strings.ToLower(u.Path)
		for _, marker := range markers {
			marker = strings.ToLower(strings.TrimSpace(marker))
			if marker != "" && strings.Contains(path, marker) {
				return candidate, true
			}
		}
	}
	return "", false
}

var (
	spacePattern     = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLinePattern = regexp.MustCompile(`\n\s*\n+`)
)

// skippedElements never contribute visible text
var skippedElements = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Title:    true,
	atom.Template: true,
}

// blockElements start a new line of text
var blockElements = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Tr: true, atom.Li: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Blockquote: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// HTMLToText tokenizes an HTML body and keeps the visible text. Comments,
// scripts and styles are dropped; block-level tags become line breaks so
// digit runs in adjacent cells stay apart.
func HTMLToText(body string) string {
	if body == "" {
		return ""
	}

	var b strings.Builder
	skip := 0
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; keep what was read
			return normalizeText(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedElements[a] {
				switch {
				case tt == html.StartTagToken:
					skip++
				case tt == html.EndTagToken && skip > 0:
					skip--
				}
				continue
			}
			if skip > 0 {
				continue
			}
			if blockElements[a] {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
	}
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = spacePattern.ReplaceAllString(text, " ")
	text = blankLinePattern.ReplaceAllString(text, "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
