// Package captions turns raw caption payloads (JSON timed events, inline-tag
// markup, cue files or plain text) into clean transcript prose.
package captions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Format int

const (
	FormatPlain Format = iota
	FormatJSONEvents
	FormatInlineTag
	FormatCue
)

func (f Format) String() string {
	switch f {
	case FormatJSONEvents:
		return "json-events"
	case FormatInlineTag:
		return "inline-tag"
	case FormatCue:
		return "cue"
	default:
		return "plain"
	}
}

var (
	inlineTagRe   = regexp.MustCompile(`(?i)<(text|p)[\s>]`)
	timingLineRe  = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?[.,]\d{1,3}\s*-->`)
	textElementRe = regexp.MustCompile(`(?is)<text[^>]*>(.*?)</text>`)
	pElementRe    = regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`)
	anyTagRe      = regexp.MustCompile(`<[^>]+>`)
	utf8FieldRe   = regexp.MustCompile(`"utf8"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	cueIDRe       = regexp.MustCompile(`^\d+$`)
	eventsKeyRe   = regexp.MustCompile(`"events"\s*:\s*\[`)
)

// Classify inspects a payload and reports which extractor applies. Checks run
// JSON first, then inline markup, then cue syntax.
func Classify(raw string) Format {
	if matched := candidates(raw); len(matched) > 0 {
		return matched[0]
	}
	return FormatPlain
}

// candidates lists every format whose signature the payload carries, in
// detection order.
func candidates(raw string) []Format {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var out []Format
	if strings.HasPrefix(trimmed, "{") || eventsKeyRe.MatchString(trimmed) {
		out = append(out, FormatJSONEvents)
	}
	if inlineTagRe.MatchString(trimmed) {
		out = append(out, FormatInlineTag)
	}
	if strings.HasPrefix(trimmed, "WEBVTT") || timingLineRe.MatchString(trimmed) {
		out = append(out, FormatCue)
	}
	return out
}

// Normalize extracts and cleans the speech text of a raw payload. It never
// fails: when every matching extractor errors the payload is cleaned as plain
// text instead.
func Normalize(raw string) string {
	for _, format := range candidates(raw) {
		if text, err := Extract(format, raw); err == nil {
			return Clean(text)
		}
	}
	return Clean(raw)
}

// Extract runs the extractor for a given format without cleanup.
func Extract(format Format, raw string) (string, error) {
	switch format {
	case FormatJSONEvents:
		return extractJSONEvents(raw)
	case FormatInlineTag:
		return extractInlineTags(raw)
	case FormatCue:
		return extractCues(raw), nil
	default:
		return raw, nil
	}
}

type timedEvents struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func extractJSONEvents(raw string) (string, error) {
	var doc timedEvents
	if err := json.Unmarshal([]byte(raw), &doc); err == nil {
		var parts []string
		for _, ev := range doc.Events {
			for _, seg := range ev.Segs {
				if strings.TrimSpace(seg.UTF8) != "" {
					parts = append(parts, seg.UTF8)
				}
			}
		}
		return strings.Join(parts, " "), nil
	}

	// Truncated or otherwise malformed JSON: recover the text fields directly.
	matches := utf8FieldRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no caption segments found in JSON payload")
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		text, err := strconv.Unquote(`"` + m[1] + `"`)
		if err != nil {
			text = m[1]
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func extractInlineTags(raw string) (string, error) {
	matches := textElementRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		matches = pElementRe.FindAllStringSubmatch(raw, -1)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no caption elements found in markup")
	}

	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		text := strings.TrimSpace(anyTagRe.ReplaceAllString(m[1], " "))
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func extractCues(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var parts []string
	last := ""
	inNote := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			inNote = false
			continue
		}
		if inNote {
			continue
		}
		switch {
		case strings.HasPrefix(line, "WEBVTT"):
			continue
		case strings.HasPrefix(line, "NOTE"):
			inNote = true
			continue
		case strings.HasPrefix(line, "Kind:"), strings.HasPrefix(line, "Language:"):
			continue
		case strings.Contains(line, "-->"):
			continue
		case cueIDRe.MatchString(line):
			continue
		}

		text := strings.TrimSpace(anyTagRe.ReplaceAllString(line, ""))
		if text == "" || text == last {
			continue
		}
		parts = append(parts, text)
		last = text
	}
	return strings.Join(parts, " ")
}
