package scrape

import (
	"net/http"
	"strings"
)

// BlockType names an anti-bot response.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock reports whether a response is a bot wall rather than content.
// Blocked pages fall through to the hosted readers.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	switch {
	case strings.Contains(lower, "cf-browser-verification"),
		strings.Contains(lower, "checking your browser"),
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge"):
		return true, BlockCloudflare
	case strings.Contains(lower, "g-recaptcha"),
		strings.Contains(lower, "h-captcha"),
		strings.Contains(lower, "captcha-container"):
		return true, BlockCaptcha
	}

	// Single-page-app shells carry almost no server-rendered text.
	if len(body) < 2000 && strings.Contains(lower, "<noscript") && strings.Contains(lower, "enable javascript") {
		return true, BlockJSShell
	}
	if len(body) < 2000 && strings.Contains(lower, `http-equiv="refresh"`) {
		return true, BlockJSShell
	}
	return false, BlockNone
}
