package captions

import "testing"

const (
	jsonPayload = `{"wireMagic":"pb3","events":[{"tStartMs":0,"segs":[{"utf8":"Hello world."}]},{"tStartMs":1200,"segs":[{"utf8":"It's"},{"utf8":" a test!"}]},{"tStartMs":2500,"segs":[{"utf8":"\n"}]}]}`

	inlinePayload = `<?xml version="1.0" encoding="utf-8" ?><transcript>` +
		`<text start="0" dur="1.2">Hello world.</text>` +
		`<text start="1.2" dur="1.3">It&amp;#39;s a test!</text></transcript>`

	cuePayload = "WEBVTT\nKind: captions\nLanguage: en\n\n" +
		"00:00:00.000 --> 00:00:01.200 align:start position:0%\nHello <c>world.</c>\n\n" +
		"00:00:01.200 --> 00:00:02.500\nIt's a test!\n"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Format
	}{
		{"json object", jsonPayload, FormatJSONEvents},
		{"json events key without brace", `  "events": []`, FormatJSONEvents},
		{"timedtext xml", inlinePayload, FormatInlineTag},
		{"srv3 paragraphs", `<timedtext><body><p t="0" d="10">hi</p></body></timedtext>`, FormatInlineTag},
		{"webvtt", cuePayload, FormatCue},
		{"srt without header", "1\n00:00:01,000 --> 00:00:02,000\nHello\n", FormatCue},
		{"cue quoting events", "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nShe said \"events\" were cancelled.\n", FormatCue},
		{"plain text", "just some words", FormatPlain},
		{"empty", "   ", FormatPlain},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.raw); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestNormalize_EquivalentAcrossFormats(t *testing.T) {
	want := "Hello world. It's a test!"

	for name, raw := range map[string]string{
		"json":   jsonPayload,
		"inline": inlinePayload,
		"cue":    cuePayload,
	} {
		t.Run(name, func(t *testing.T) {
			if got := Normalize(raw); got != want {
				t.Errorf("Expected %q, got %q", want, got)
			}
		})
	}
}

func TestNormalize_MalformedJSONRecoversSegments(t *testing.T) {
	raw := `{"events":[{"segs":[{"utf8":"First part."}]},{"segs":[{"utf8":"Second \"quoted\" part."}]`
	got := Normalize(raw)
	want := `First part. Second "quoted" part.`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestNormalize_UnparseableMarkupFallsBackToPlain(t *testing.T) {
	raw := `<p class="x"no closing tag and some words.`
	got := Normalize(raw)
	if got == "" {
		t.Fatal("Expected plain-text fallback, got empty string")
	}
}

func TestNormalize_NonSpeechOnlyIsEmpty(t *testing.T) {
	raw := `{"events":[{"segs":[{"utf8":"[Music]"}]},{"segs":[{"utf8":"(applause)"}]}]}`
	if got := Normalize(raw); got != "" {
		t.Errorf("Expected empty transcript, got %q", got)
	}
}

func TestNormalize_CueSkipsNotesAndDuplicates(t *testing.T) {
	raw := "WEBVTT\n\nNOTE this is a comment\nspanning lines\n\n" +
		"1\n00:00:00.000 --> 00:00:01.000\nRepeated line.\n\n" +
		"2\n00:00:01.000 --> 00:00:02.000\nRepeated line.\n\n" +
		"3\n00:00:02.000 --> 00:00:03.000\nNew line.\n"

	want := "Repeated line. New line."
	if got := Normalize(raw); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestNormalize_CueQuotingEventsKeepsCueText(t *testing.T) {
	raw := "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nShe said \"events\" were cancelled.\n"

	want := `She said "events" were cancelled.`
	if got := Normalize(raw); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestNormalize_FailedExtractorTriesNextFormat(t *testing.T) {
	// Looks like JSON events but carries no segments; the cue extractor applies.
	raw := "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nThe \"events\": [ list was empty.\n"

	want := `The "events": [ list was empty.`
	if got := Normalize(raw); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
