package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	urlpkg "net/url"
	"regexp"
	"strings"
)

var videoIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// NormalizeURL validates a YouTube reference and returns its video id and the
// canonical watch URL used as the dedup key.
func NormalizeURL(source string) (string, string, error) {
	videoID := extractVideoID(strings.TrimSpace(source))
	if videoID == "" {
		return "", "", newError(KindInvalidSource, fmt.Sprintf("not a recognised YouTube URL: %q", source), nil)
	}
	return videoID, watchURL(videoID), nil
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

func extractVideoID(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := urlpkg.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	path := strings.Trim(parsed.Path, "/")

	switch host {
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if path == "watch" {
			return validID(parsed.Query().Get("v"))
		}
		parts := strings.Split(path, "/")
		if len(parts) >= 2 {
			switch parts[0] {
			case "shorts", "embed", "v", "live":
				return validID(parts[1])
			}
		}
	case "youtu.be":
		return validID(strings.Split(path, "/")[0])
	}
	return ""
}

func validID(id string) string {
	if videoIDRe.MatchString(id) {
		return id
	}
	return ""
}

// UploadSourceRef is the dedup identity of an uploaded file: content hash plus name.
func UploadSourceRef(data []byte, filename string) string {
	sum := sha256.Sum256(data)
	return "upload:" + hex.EncodeToString(sum[:]) + ":" + filename
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
