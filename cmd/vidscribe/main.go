package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vidscribe-backend/internal/app"
	"vidscribe-backend/internal/config"
	"vidscribe-backend/internal/middleware"
	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/repository"
	"vidscribe-backend/internal/services"
)

var version = "dev"

// localUser owns everything created from the CLI unless --user is given.
var localUser = uuid.NewSHA1(uuid.NameSpaceOID, []byte("vidscribe:local"))

var (
	verbose  bool
	asJSON   bool
	userFlag string
	cfg      *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "vidscribe",
	Short:        "Extract, analyze and search video transcripts",
	Long:         "vidscribe turns YouTube videos and local media into stored, searchable transcripts with keyword, topic and sentiment insights.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(0)
			log.SetOutput(os.Stderr)
		}
		if cmd.Name() == "version" {
			return nil
		}
		cfg = config.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Owner user ID (defaults to the local CLI user)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(tokenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vidscribe", version)
	},
}

// --- extract command ---

var (
	extractMethod string
	extractLang   string
	extractStrict bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Extract and store the transcript of a YouTube video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			res, err := a.Extraction.Extract(ctx, services.ExtractRequest{
				Source:   args[0],
				UserID:   userID,
				Method:   extractMethod,
				Language: extractLang,
				Strict:   extractStrict,
			})
			if err != nil {
				if res != nil && asJSON {
					printJSON(res)
				}
				return explain(err)
			}
			if asJSON {
				return printJSON(res)
			}

			fmt.Printf("Transcript: %s\n", uuidOrDash(res.TranscriptID))
			if res.VideoInfo != nil {
				fmt.Printf("Title:      %s\n", res.VideoInfo.Title)
			}
			fmt.Printf("Method:     %s\n", res.Method)
			fmt.Printf("From cache: %t\n", res.FromCache)
			printInsights(res.Insights)
			fmt.Printf("\n%s\n", res.Transcript)
			return nil
		})
	},
}

// --- info command ---

var infoRecord bool

var infoCmd = &cobra.Command{
	Use:   "info <url>",
	Short: "Show video metadata without extracting a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			info, err := a.Extraction.VideoInfo(ctx, args[0], userID, infoRecord)
			if err != nil {
				return explain(err)
			}
			if asJSON {
				return printJSON(info)
			}
			fmt.Printf("Title:    %s\n", info.Title)
			fmt.Printf("Uploader: %s\n", info.Uploader)
			fmt.Printf("Duration: %s\n", info.DurationFormatted)
			fmt.Printf("Uploaded: %s\n", info.UploadDate)
			fmt.Printf("Views:    %d\n", info.ViewCount)
			if len(info.Tags) > 0 {
				fmt.Printf("Tags:     %s\n", strings.Join(info.Tags, ", "))
			}
			return nil
		})
	},
}

// --- upload command ---

var uploadLang string

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Transcribe a local audio or video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			res, err := a.Extraction.ProcessUpload(ctx, services.UploadRequest{
				UserID:   userID,
				Data:     data,
				Filename: args[0],
				Language: uploadLang,
			})
			if err != nil {
				return explain(err)
			}
			if asJSON {
				return printJSON(res)
			}
			fmt.Printf("Transcript: %s\n", uuidOrDash(res.TranscriptID))
			fmt.Printf("Duration:   %s\n", res.DurationFormatted)
			fmt.Printf("Words:      %d\n", res.WordCount)
			fmt.Printf("From cache: %t\n", res.FromCache)
			printInsights(res.Insights)
			fmt.Printf("\n%s\n", res.Transcript)
			return nil
		})
	},
}

// --- list / search / get / delete ---

var (
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored transcripts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			items, total, err := a.Extraction.List(ctx, userID, listLimit, listOffset)
			if err != nil {
				return explain(err)
			}
			if asJSON {
				return printJSON(map[string]interface{}{"items": items, "total": total})
			}
			printRecords(items)
			fmt.Printf("\n%d of %d transcripts\n", len(items), total)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search titles, transcripts, uploaders and tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			items, err := a.Extraction.Search(ctx, userID, query, listLimit)
			if err != nil {
				return explain(err)
			}
			if asJSON {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Printf("No transcripts match %q\n", query)
				return nil
			}
			printRecords(items)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a stored transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid transcript ID %q", args[0])
		}
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			rec, err := a.Extraction.Get(ctx, id, userID)
			if err != nil {
				return explain(err)
			}
			if asJSON {
				return printJSON(rec)
			}
			fmt.Printf("%s (%s, %s)\n", rec.Title, rec.Method, rec.DurationFormatted)
			fmt.Printf("Source: %s\n", rec.SourceRef)
			printInsights(rec.Insights)
			fmt.Printf("\n%s\n", rec.Transcript)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a transcript and its categorical entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid transcript ID %q", args[0])
		}
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			deleted, err := a.Extraction.Delete(ctx, id, userID)
			if err != nil {
				return explain(err)
			}
			if !deleted {
				return fmt.Errorf("transcript %s not found", id)
			}
			fmt.Printf("Deleted %s\n", id)
			return nil
		})
	},
}

// --- stats / maintenance ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate transcript statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			s, err := a.Extraction.Summary(ctx, userID)
			if err != nil {
				return explain(err)
			}
			if asJSON {
				return printJSON(s)
			}
			fmt.Println("Transcripts:")
			fmt.Printf("  Total: %d (%d url, %d upload)\n", s.TotalTranscripts, s.URLCount, s.UploadCount)
			fmt.Printf("  Words: %d (avg %.0f)\n", s.TotalWords, s.AverageWordCount)
			fmt.Printf("  Characters: %d\n", s.TotalCharacters)
			fmt.Printf("  Average duration: %s\n", s.AverageDurationLabel)
			fmt.Printf("  Uploaded media: %.2f MB\n", s.TotalFileSizeMB)
			fmt.Println("\nCategorical index:")
			fmt.Printf("  Entries: %d\n", s.CategoricalCount)
			fmt.Printf("  Missing: %d\n", s.MissingCategorical)
			return nil
		})
	},
}

var reconcileAll bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild missing categorical entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, userID uuid.UUID) error {
			if reconcileAll {
				userID = repository.AllUsers
			}
			n, err := a.Extraction.Reconcile(ctx, userID)
			if err != nil {
				return explain(err)
			}
			fmt.Printf("Restored %d categorical entries\n", n)
			return nil
		})
	},
}

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete transcripts older than the retention window (all users)",
	RunE: func(cmd *cobra.Command, args []string) error {
		days := cleanupDays
		if days <= 0 {
			days = cfg.RetentionDays
		}
		if days <= 0 {
			return errors.New("set --older-than-days or RETENTION_DAYS")
		}
		return withApp(func(ctx context.Context, a *app.App, _ uuid.UUID) error {
			n, err := a.Store.Cleanup(ctx, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d transcripts older than %d days\n", n, days)
			return nil
		})
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Check which optional dependencies are available",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, _ uuid.UUID) error {
			s := a.Extraction.Setup()
			if asJSON {
				return printJSON(s)
			}
			fmt.Printf("Store:       %s\n", s.Store)
			fmt.Printf("FFmpeg:      %s\n", status(s.Audio.FFmpegAvailable, s.Audio.FFmpegError))
			fmt.Printf("Recognizer:  %s %s\n", s.Audio.Recognizer, status(s.Audio.RecognizerReady, s.Audio.RecognizerError))
			fmt.Printf("Chunking:    %ds x %d workers\n", s.Audio.ChunkSeconds, s.Audio.ChunkConcurrency)
			return nil
		})
	},
}

// --- token command ---

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token for the selected user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		userID, err := selectedUser()
		if err != nil {
			return err
		}
		tok, err := middleware.NewJWTAuth(cfg.JWTSecret).GenerateAccessToken(userID, tokenTTL)
		if err != nil {
			return fmt.Errorf("signing token: %w", err)
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractMethod, "method", "m", models.MethodCaptions, "captions or audio")
	extractCmd.Flags().StringVarP(&extractLang, "lang", "l", "", "Recognition language (e.g. en-US)")
	extractCmd.Flags().BoolVar(&extractStrict, "strict", false, "Fail instead of falling back to audio when captions are missing")

	infoCmd.Flags().BoolVar(&infoRecord, "record", false, "Store the metadata in the categorical index")

	uploadCmd.Flags().StringVarP(&uploadLang, "lang", "l", "", "Recognition language (e.g. en-US)")

	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of results")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Results to skip")
	searchCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of results")

	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "Reconcile every user's transcripts")
	cleanupCmd.Flags().IntVar(&cleanupDays, "older-than-days", 0, "Retention window in days (defaults to RETENTION_DAYS)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

// --- helpers ---

func selectedUser() (uuid.UUID, error) {
	if userFlag == "" {
		return localUser, nil
	}
	id, err := uuid.Parse(userFlag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user %q: %w", userFlag, err)
	}
	return id, nil
}

// withApp builds the pipeline, runs fn with an interrupt-aware context and
// tears everything down afterwards.
func withApp(fn func(ctx context.Context, a *app.App, userID uuid.UUID) error) error {
	userID, err := selectedUser()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, userID)
}

func explain(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errors.New("not found")
	}
	var ee *services.ExtractionError
	if errors.As(err, &ee) && ee.Retryable() {
		return fmt.Errorf("%w (temporary, try again later)", err)
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecords(items []*models.TranscriptRecord) {
	for _, rec := range items {
		fmt.Printf("%s  %-8s %-8s %6d words  %s\n",
			rec.ID, rec.SourceType, rec.Method, rec.WordCount, rec.Title)
	}
}

func printInsights(in models.StructuredInsights) {
	fmt.Printf("Language:   %s\n", in.Language)
	fmt.Printf("Sentiment:  %s (%.2f)\n", in.Sentiment.Label, in.Sentiment.Score)
	fmt.Printf("Readability: %.1f\n", in.Readability)
	if len(in.Keywords) > 0 {
		fmt.Printf("Keywords:   %s\n", strings.Join(in.Keywords, ", "))
	}
	if len(in.Topics) > 0 {
		fmt.Printf("Topics:     %s\n", strings.Join(in.Topics, ", "))
	}
}

func uuidOrDash(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func status(ok bool, reason string) string {
	if ok {
		return "ok"
	}
	return "unavailable: " + reason
}
