package webhooks

import "strings"

const tokenMarker = "/hooks/"

// Mask redacts the secret part of a webhook URL for display. For
// Mattermost-style URLs only the token after /hooks/ is hidden; anything
// else keeps just a few characters from each end. The result must never be
// used to rebuild a working URL.
func Mask(url string) string {
	if prefix, token, found := strings.Cut(url, tokenMarker); found {
		return prefix + tokenMarker + maskKeep(token, 4, 3, 1)
	}
	return maskKeep(url, 8, 4, 2)
}

// maskKeep hides s entirely when it has at most short runes, otherwise
// keeps head runes and tail runes around a fixed "***".
func maskKeep(s string, short, head, tail int) string {
	r := []rune(s)
	if len(r) <= short {
		return strings.Repeat("*", len(r))
	}
	return string(r[:head]) + "***" + string(r[len(r)-tail:])
}
