package model

import (
	"strings"
	"unicode/utf8"
)

// CrawledPage represents a page fetched during crawling.
type CrawledPage struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Markdown   string `json:"markdown"`
	StatusCode int    `json:"status_code"`
}

// SanitizeUTF8 strips null bytes and invalid UTF-8 sequences. PostgreSQL
// rejects both.
func SanitizeUTF8(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
