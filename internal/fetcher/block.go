package fetcher

import "strings"

// blockMarkers are matched case-insensitively against the whole body.
var blockMarkers = []string{"captcha", "access denied"}

// DetectBlock returns the first anti-bot marker found in body, or "".
func DetectBlock(body string) string {
	lower := strings.ToLower(body)
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}
