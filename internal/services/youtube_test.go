package services

import (
	"strings"
	"testing"

	yt "github.com/kkdai/youtube/v2"
)

func TestExtractCaptionURL(t *testing.T) {
	page := `var ytInitialPlayerResponse = {"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[{"baseUrl":"https:\/\/www.youtube.com\/api\/timedtext?v=abc\u0026lang=en","name":{"simpleText":"English"}}],"audioTracks":[]}}};`

	got, err := extractCaptionURL(page)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := "https://www.youtube.com/api/timedtext?v=abc&lang=en"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if _, err := extractCaptionURL("<html>no captions here</html>"); err == nil {
		t.Error("Expected error when page has no caption tracks")
	}
}

func TestPickCaptionTrack(t *testing.T) {
	langs := []string{"en", "en-US", "en-GB"}

	tests := []struct {
		name     string
		tracks   []yt.CaptionTrack
		wantLang string
		wantKind string
	}{
		{
			name: "manual preferred over automatic",
			tracks: []yt.CaptionTrack{
				{LanguageCode: "en", Kind: "asr", BaseURL: "auto"},
				{LanguageCode: "en-GB", BaseURL: "manual"},
			},
			wantLang: "en-GB",
			wantKind: captionKindManual,
		},
		{
			name: "automatic in preferred language",
			tracks: []yt.CaptionTrack{
				{LanguageCode: "de", BaseURL: "manual-de"},
				{LanguageCode: "en", Kind: "asr", BaseURL: "auto"},
			},
			wantLang: "en",
			wantKind: captionKindAuto,
		},
		{
			name:     "any track when no preferred language",
			tracks:   []yt.CaptionTrack{{LanguageCode: "fr", Kind: "asr"}},
			wantLang: "fr",
			wantKind: captionKindAuto,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			track, kind := pickCaptionTrack(tc.tracks, langs)
			if track == nil {
				t.Fatal("Expected a track")
			}
			if track.LanguageCode != tc.wantLang || kind != tc.wantKind {
				t.Errorf("Expected %s/%s, got %s/%s", tc.wantLang, tc.wantKind, track.LanguageCode, kind)
			}
		})
	}

	if track, _ := pickCaptionTrack(nil, langs); track != nil {
		t.Error("Expected nil track for video without captions")
	}
}

func TestWithCaptionFormat(t *testing.T) {
	tests := []struct{ in, format, want string }{
		{"https://x/api/timedtext?v=1", "json3", "https://x/api/timedtext?v=1&fmt=json3"},
		{"https://x/api/timedtext?v=1&fmt=vtt", "json3", "https://x/api/timedtext?v=1&fmt=vtt"},
		{"https://x/api/timedtext", "vtt", "https://x/api/timedtext?fmt=vtt"},
		{"https://x/api/timedtext?v=1", "", "https://x/api/timedtext?v=1"},
	}
	for _, tc := range tests {
		if got := withCaptionFormat(tc.in, tc.format); got != tc.want {
			t.Errorf("Expected %q, got %q", tc.want, got)
		}
	}
}

func TestTruncateDescription(t *testing.T) {
	short := "A short description."
	if got := truncateDescription(short, 500); got != short {
		t.Errorf("Expected unchanged description, got %q", got)
	}

	long := strings.Repeat("word ", 200)
	got := truncateDescription(long, 500)
	if !strings.HasSuffix(got, "word...") {
		t.Errorf("Expected cut at word boundary with ellipsis, got suffix %q", got[len(got)-10:])
	}
	if len([]rune(got)) > 503 {
		t.Errorf("Description too long: %d runes", len([]rune(got)))
	}
}

func TestLargestThumbnail(t *testing.T) {
	thumbs := yt.Thumbnails{
		{URL: "small", Width: 120, Height: 90},
		{URL: "large", Width: 1280, Height: 720},
		{URL: "medium", Width: 480, Height: 360},
	}
	if got := largestThumbnail(thumbs); got != "large" {
		t.Errorf("Expected large, got %q", got)
	}
}
