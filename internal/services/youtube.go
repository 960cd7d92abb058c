package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	ytapi "github.com/hightemp/youtube-transcript-api-go/api"
	yt "github.com/kkdai/youtube/v2"

	"vidscribe-backend/internal/models"
)

const (
	browserUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxCaptionBytes    = 10 * 1024 * 1024
	maxDescriptionLen  = 500
	maxTags            = 10
	uploadDateLayout   = "January 02, 2006"
	captionKindManual  = "manual"
	captionKindAuto    = "automatic"
	captionKindAPI     = "transcript-api"
	captionKindLegacy  = "timedtext"
	defaultAudioMIME   = "audio/mp4"
	defaultCaptionFmt  = "json3"
	channelURLTemplate = "https://www.youtube.com/channel/%s"
)

type YouTubeConfig struct {
	Languages     []string
	CaptionFormat string
	Timeout       time.Duration
	MaxAudioBytes int64
}

// YouTubeService resolves video metadata, raw caption payloads and audio
// streams for YouTube sources.
type YouTubeService struct {
	httpClient    *http.Client
	transcriptAPI *ytapi.YouTubeTranscriptApi
	ytClient      *yt.Client
	languages     []string
	captionFormat string
	maxAudioBytes int64
}

// RawCaptionPayload is an unparsed caption document and where it came from.
type RawCaptionPayload struct {
	Data     string
	Language string
	Kind     string
}

func NewYouTubeService(cfg YouTubeConfig) *YouTubeService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en", "en-US", "en-GB"}
	}
	if cfg.CaptionFormat == "" {
		cfg.CaptionFormat = defaultCaptionFmt
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 100 * 1024 * 1024
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &YouTubeService{
		httpClient:    httpClient,
		transcriptAPI: ytapi.NewYouTubeTranscriptApi(),
		ytClient:      &yt.Client{HTTPClient: httpClient},
		languages:     cfg.Languages,
		captionFormat: cfg.CaptionFormat,
		maxAudioBytes: cfg.MaxAudioBytes,
	}
}

// FetchVideoInfo resolves metadata for a source. On failure it returns a
// partial VideoInfo with Error set together with the typed error.
func (s *YouTubeService) FetchVideoInfo(ctx context.Context, source string) (*models.VideoInfo, error) {
	videoID, canonical, err := NormalizeURL(source)
	if err != nil {
		return nil, err
	}

	info := &models.VideoInfo{
		VideoID:    videoID,
		Title:      "Unknown",
		Uploader:   "Unknown",
		WebpageURL: canonical,
		Thumbnail:  fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", videoID),
		Tags:       []string{},
	}

	video, err := s.ytClient.GetVideoContext(ctx, canonical)
	if err != nil {
		info.Error = err.Error()
		s.enrichFromWatchPage(ctx, videoID, info)
		info.DurationFormatted = FormatDuration(info.Duration)
		return info, classify(err, KindInvalidSource, "video unavailable")
	}

	info.Title = video.Title
	info.Duration = int(video.Duration.Seconds())
	info.Uploader = video.Author
	info.Description = truncateDescription(video.Description, maxDescriptionLen)
	info.ChannelID = video.ChannelID
	info.ViewCount = video.Views
	if video.ChannelID != "" {
		info.ChannelURL = fmt.Sprintf(channelURLTemplate, video.ChannelID)
	}
	if !video.PublishDate.IsZero() {
		info.UploadDate = video.PublishDate.Format(uploadDateLayout)
	}
	if thumb := largestThumbnail(video.Thumbnails); thumb != "" {
		info.Thumbnail = thumb
	}

	s.enrichFromWatchPage(ctx, videoID, info)
	info.DurationFormatted = FormatDuration(info.Duration)
	return info, nil
}

// enrichFromWatchPage fills tags, category and any fields the player
// response left empty. Failures only cost detail.
func (s *YouTubeService) enrichFromWatchPage(ctx context.Context, videoID string, info *models.VideoInfo) {
	body, err := s.fetch(ctx, watchURL(videoID))
	if err != nil {
		log.Printf("watch page fetch for %s failed: %v", videoID, err)
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		log.Printf("watch page parse for %s failed: %v", videoID, err)
		return
	}

	if kw := doc.Find(`meta[name="keywords"]`).AttrOr("content", ""); kw != "" {
		tags := []string{}
		for _, tag := range strings.Split(kw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
			if len(tags) == maxTags {
				break
			}
		}
		info.Tags = tags
	}
	if genre := doc.Find(`meta[itemprop="genre"]`).AttrOr("content", ""); genre != "" {
		info.Category = genre
	}

	if info.Title == "Unknown" {
		if title := doc.Find(`meta[property="og:title"]`).AttrOr("content", ""); title != "" {
			info.Title = title
		}
	}
	if info.Uploader == "Unknown" {
		if name := doc.Find(`span[itemprop="author"] link[itemprop="name"]`).AttrOr("content", ""); name != "" {
			info.Uploader = name
		}
	}
	if info.Description == "" {
		desc := doc.Find(`meta[name="description"]`).AttrOr("content", "")
		if desc == "" {
			desc = doc.Find(`meta[property="og:description"]`).AttrOr("content", "")
		}
		info.Description = truncateDescription(desc, maxDescriptionLen)
	}
	if info.Duration == 0 {
		if m := lengthSecondsRe.FindStringSubmatch(string(body)); len(m) > 1 {
			info.Duration, _ = strconv.Atoi(m[1])
		}
	}
}

var lengthSecondsRe = regexp.MustCompile(`"lengthSeconds":"(\d+)"`)

// FetchRawCaptions returns the best caption payload for the source, or nil
// when none exists. Transport failures surface as NetworkFailure.
func (s *YouTubeService) FetchRawCaptions(ctx context.Context, source string) (*RawCaptionPayload, error) {
	videoID, canonical, err := NormalizeURL(source)
	if err != nil {
		return nil, err
	}

	video, err := s.ytClient.GetVideoContext(ctx, canonical)
	switch {
	case err != nil && isTransient(err):
		return nil, newError(KindNetworkFailure, "failed to load caption tracks", err)
	case err != nil:
		log.Printf("Caption tracks unavailable for %s: %v", videoID, err)
	default:
		if track, kind := pickCaptionTrack(video.CaptionTracks, s.languages); track != nil {
			payload, fetchErr := s.fetch(ctx, withCaptionFormat(track.BaseURL, s.captionFormat))
			if fetchErr != nil && isTransient(fetchErr) {
				return nil, newError(KindNetworkFailure, "failed to download caption track", fetchErr)
			}
			if fetchErr == nil && strings.TrimSpace(string(payload)) != "" {
				return &RawCaptionPayload{Data: string(payload), Language: track.LanguageCode, Kind: kind}, nil
			}
			log.Printf("Caption track download for %s returned nothing usable: %v", videoID, fetchErr)
		}
	}

	if payload := s.captionsViaTranscriptAPI(videoID); payload != nil {
		return payload, nil
	}

	payload, err := s.captionsViaTimedText(ctx, videoID)
	if err != nil {
		if isTransient(err) {
			return nil, newError(KindNetworkFailure, "failed to fetch timedtext captions", err)
		}
		log.Printf("TimedText fallback for %s: %v", videoID, err)
		return nil, nil
	}
	return payload, nil
}

// pickCaptionTrack prefers manual tracks in language order, then automatic
// ones, then any manual or automatic track at all.
func pickCaptionTrack(tracks []yt.CaptionTrack, languages []string) (*yt.CaptionTrack, string) {
	for _, wantAuto := range []bool{false, true} {
		for _, lang := range languages {
			for i := range tracks {
				if (tracks[i].Kind == "asr") == wantAuto && strings.EqualFold(tracks[i].LanguageCode, lang) {
					return &tracks[i], trackKind(wantAuto)
				}
			}
		}
	}
	for _, wantAuto := range []bool{false, true} {
		for i := range tracks {
			if (tracks[i].Kind == "asr") == wantAuto {
				return &tracks[i], trackKind(wantAuto)
			}
		}
	}
	return nil, ""
}

func trackKind(auto bool) string {
	if auto {
		return captionKindAuto
	}
	return captionKindManual
}

func withCaptionFormat(baseURL, format string) string {
	if format == "" || strings.Contains(baseURL, "fmt=") {
		return baseURL
	}
	sep := "&"
	if !strings.Contains(baseURL, "?") {
		sep = "?"
	}
	return baseURL + sep + "fmt=" + format
}

func (s *YouTubeService) captionsViaTranscriptAPI(videoID string) *RawCaptionPayload {
	transcript, err := s.transcriptAPI.GetTranscript(videoID, s.languages)
	if err != nil {
		log.Printf("Transcript API has no captions for %s: %v", videoID, err)
		return nil
	}

	var lines []string
	for _, entry := range transcript.Entries {
		if text := strings.TrimSpace(entry.Text); text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return &RawCaptionPayload{Data: strings.Join(lines, "\n"), Language: s.languages[0], Kind: captionKindAPI}
}

func (s *YouTubeService) captionsViaTimedText(ctx context.Context, videoID string) (*RawCaptionPayload, error) {
	page, err := s.fetch(ctx, watchURL(videoID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch YouTube page: %w", err)
	}

	captionURL, err := extractCaptionURL(string(page))
	if err != nil {
		return nil, err
	}

	body, err := s.fetch(ctx, captionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch captions: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, fmt.Errorf("timedtext captions empty")
	}
	return &RawCaptionPayload{Data: string(body), Kind: captionKindLegacy}, nil
}

var (
	captionTracksRe   = regexp.MustCompile(`"captionTracks"\s*:\s*\[(.*?)\],\s*"`)
	captionRendererRe = regexp.MustCompile(`"playerCaptionsTracklistRenderer"\s*:\s*\{(?:.*?,)?\s*"captionTracks"\s*:\s*\[(.*?)\],\s*"`)
	baseURLRe         = regexp.MustCompile(`"baseUrl"\s*:\s*"(.*?)"`)
)

func extractCaptionURL(pageHTML string) (string, error) {
	matches := captionTracksRe.FindStringSubmatch(pageHTML)
	if len(matches) < 2 {
		matches = captionRendererRe.FindStringSubmatch(pageHTML)
		if len(matches) < 2 {
			return "", fmt.Errorf("no captions available for this video")
		}
	}

	urlMatches := baseURLRe.FindStringSubmatch(matches[1])
	if len(urlMatches) < 2 {
		return "", fmt.Errorf("caption track found but baseUrl missing")
	}

	u := strings.ReplaceAll(urlMatches[1], `\u0026`, "&")
	u = strings.ReplaceAll(u, `\/`, "/")
	return u, nil
}

// DownloadAudio streams the best audio-only format of a source into w and
// returns its MIME type and size.
func (s *YouTubeService) DownloadAudio(ctx context.Context, source string, w io.Writer) (string, int64, error) {
	_, canonical, err := NormalizeURL(source)
	if err != nil {
		return "", 0, err
	}

	video, err := s.ytClient.GetVideoContext(ctx, canonical)
	if err != nil {
		return "", 0, classify(err, KindRecognitionFailure, "failed to fetch YouTube video metadata")
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return "", 0, newError(KindRecognitionFailure, "no audio formats available", nil)
	}

	best := formats[0]
	for _, f := range formats {
		if f.Bitrate > best.Bitrate {
			best = f
		}
	}

	stream, _, err := s.ytClient.GetStreamContext(ctx, video, &best)
	if err != nil {
		return "", 0, classify(err, KindRecognitionFailure, "failed to open audio stream")
	}
	defer stream.Close()

	n, err := io.Copy(w, io.LimitReader(stream, s.maxAudioBytes+1))
	if err != nil {
		return "", n, classify(err, KindRecognitionFailure, "failed to read audio stream")
	}
	if n > s.maxAudioBytes {
		return "", n, newError(KindRecognitionFailure,
			fmt.Sprintf("audio stream exceeds %d MB limit", s.maxAudioBytes/(1024*1024)), nil)
	}

	mimeType := strings.TrimSpace(strings.Split(best.MimeType, ";")[0])
	if mimeType == "" {
		mimeType = defaultAudioMIME
	}
	return mimeType, n, nil
}

func (s *YouTubeService) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{URL: target, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxCaptionBytes))
}

func largestThumbnail(thumbs yt.Thumbnails) string {
	best := ""
	var bestArea uint
	for _, t := range thumbs {
		if area := t.Width * t.Height; best == "" || area > bestArea {
			best, bestArea = t.URL, area
		}
	}
	return best
}

// truncateDescription cuts at the last word boundary before limit runes.
func truncateDescription(desc string, limit int) string {
	desc = strings.TrimSpace(desc)
	runes := []rune(desc)
	if len(runes) <= limit {
		return desc
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
