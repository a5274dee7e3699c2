// Package youtube extracts video ids from YouTube links.
package youtube

import (
	"fmt"
	"regexp"
	"strings"
)

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtu\.be/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com/embed/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com/v/)([a-zA-Z0-9_-]{11})`),
}

// ExtractVideoId returns the 11 character video id in rawURL.
func ExtractVideoId(rawURL string) (string, bool) {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return "", false
	}

	for _, p := range patterns {
		if m := p.FindStringSubmatch(u); m != nil {
			return m[1], true
		}
	}

	return "", false
}

// DefaultTitle is the title shown until metadata is available.
func DefaultTitle(videoId string) string {
	return fmt.Sprintf("YouTube Video %s", videoId)
}
