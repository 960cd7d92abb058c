// Package insights derives keywords, topics, sentiment, key phrases,
// readability and language from transcript text.
package insights

import (
	"log"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/jonreiter/govader"

	"vidscribe-backend/internal/models"
)

const (
	maxKeywords        = 10
	maxKeyPhrases      = 3
	phraseCandidates   = 5
	minPhraseLength    = 20
	maxPhraseLength    = 150
	sentimentWindow    = 1000
	sentimentThreshold = 0.1
	unknownLanguage    = "unknown"
)

var (
	tokenRe         = regexp.MustCompile(`\b[a-z]{3,}\b`)
	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
)

// PolarityScorer returns a sentiment polarity, nominally in [-1, 1].
type PolarityScorer interface {
	Polarity(text string) float64
}

// LanguageDetector returns an ISO 639-1 code and whether the guess is reliable.
type LanguageDetector interface {
	Detect(text string) (string, bool)
}

type Extractor struct {
	taxonomy *Taxonomy
	scorer   PolarityScorer
	detector LanguageDetector
}

type Option func(*Extractor)

func WithScorer(s PolarityScorer) Option { return func(e *Extractor) { e.scorer = s } }

func WithDetector(d LanguageDetector) Option { return func(e *Extractor) { e.detector = d } }

func NewExtractor(taxonomy *Taxonomy, opts ...Option) *Extractor {
	e := &Extractor{
		taxonomy: taxonomy,
		scorer:   vaderScorer{analyzer: govader.NewSentimentIntensityAnalyzer()},
		detector: whatlangDetector{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Empty is the value returned for blank text or when analysis fails.
func Empty() models.StructuredInsights {
	return models.StructuredInsights{
		Keywords:   []string{},
		Sentiment:  models.Sentiment{Score: 0, Label: "neutral"},
		Topics:     []string{},
		KeyPhrases: []string{},
		Language:   unknownLanguage,
	}
}

// Extract is deterministic for identical text and taxonomy. It never panics;
// any failure yields Empty().
func (e *Extractor) Extract(text string, info *models.VideoInfo) (out models.StructuredInsights) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("insight extraction failed: %v", r)
			out = Empty()
		}
	}()

	if strings.TrimSpace(text) == "" {
		return Empty()
	}

	lower := strings.ToLower(text)
	polarity := clamp(e.scorer.Polarity(truncateRunes(text, sentimentWindow)), -1, 1)

	return models.StructuredInsights{
		Keywords:    e.keywords(lower),
		Sentiment:   models.Sentiment{Score: round2(polarity), Label: SentimentLabel(polarity)},
		Topics:      e.topics(lower),
		KeyPhrases:  keyPhrases(text),
		Language:    e.language(text, info),
		Readability: Readability(text),
	}
}

// SentimentLabel buckets a score; exactly ±0.1 counts as neutral.
func SentimentLabel(score float64) string {
	switch {
	case score > sentimentThreshold:
		return "positive"
	case score < -sentimentThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

// Readability is 100 minus twice the average sentence length, clamped to [0, 100].
func Readability(text string) float64 {
	words := len(strings.Fields(text))
	sentences := 0
	for _, s := range sentenceSplitRe.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}
	avg := float64(words) / float64(sentences)
	return round2(clamp(100-2*avg, 0, 100))
}

func (e *Extractor) keywords(lower string) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, tok := range tokenRe.FindAllString(lower, -1) {
		if e.taxonomy.isStopWord(tok) {
			continue
		}
		if _, ok := counts[tok]; !ok {
			firstSeen[tok] = i
		}
		counts[tok]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return firstSeen[words[i]] < firstSeen[words[j]]
	})

	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	return words
}

func (e *Extractor) topics(lower string) []string {
	topics := []string{}
	for _, topic := range e.taxonomy.Topics {
		for _, kw := range topic.Keywords {
			if strings.Contains(lower, kw) {
				topics = append(topics, topic.Name)
				break
			}
		}
	}
	return topics
}

func keyPhrases(text string) []string {
	segments := sentenceSplitRe.Split(text, -1)
	if len(segments) > phraseCandidates {
		segments = segments[:phraseCandidates]
	}

	phrases := []string{}
	for _, s := range segments {
		s = strings.TrimSpace(s)
		if n := len(s); n >= minPhraseLength && n <= maxPhraseLength {
			phrases = append(phrases, s)
		}
		if len(phrases) == maxKeyPhrases {
			break
		}
	}
	return phrases
}

func (e *Extractor) language(text string, info *models.VideoInfo) string {
	guess, reliable := e.detector.Detect(text)
	if reliable && guess != "" {
		return guess
	}

	if info != nil {
		meta := strings.TrimSpace(info.Title + " " + info.Description)
		if meta != "" {
			if code, ok := e.detector.Detect(meta); ok && code != "" {
				return code
			}
		}
	}

	if guess != "" {
		return guess
	}
	return unknownLanguage
}

type vaderScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func (v vaderScorer) Polarity(text string) float64 {
	return v.analyzer.PolarityScores(text).Compound
}

type whatlangDetector struct{}

func (whatlangDetector) Detect(text string) (string, bool) {
	info := whatlanggo.Detect(text)
	return info.Lang.Iso6391(), info.IsReliable()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
