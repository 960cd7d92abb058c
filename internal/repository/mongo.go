package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vidscribe-backend/internal/models"
)

const (
	transcriptsCollection = "transcripts"
	categoricalCollection = "categorical_videos"
)

// MongoBackend stores ids as strings so documents stay readable from the shell.
type MongoBackend struct {
	db          *mongo.Database
	transcripts *mongo.Collection
	categorical *mongo.Collection
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{
		db:          db,
		transcripts: db.Collection(transcriptsCollection),
		categorical: db.Collection(categoricalCollection),
	}
}

// EnsureIndexes creates the uniqueness constraints the upserts rely on.
func (r *MongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := r.transcripts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "source_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create transcript indexes: %w", err)
	}
	_, err = r.categorical.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "source_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "source_type", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create categorical indexes: %w", err)
	}
	return nil
}

func (r *MongoBackend) Name() string { return "mongo" }

func (r *MongoBackend) Ping(ctx context.Context) error { return r.db.Client().Ping(ctx, nil) }

func (r *MongoBackend) Close(ctx context.Context) error { return r.db.Client().Disconnect(ctx) }

type transcriptDoc struct {
	ID                string                    `bson:"_id"`
	UserID            string                    `bson:"user_id"`
	SourceRef         string                    `bson:"source_ref"`
	SourceType        string                    `bson:"source_type"`
	Title             string                    `bson:"title"`
	Duration          int                       `bson:"duration"`
	DurationFormatted string                    `bson:"duration_formatted"`
	Transcript        string                    `bson:"transcript"`
	Method            string                    `bson:"method"`
	Language          string                    `bson:"language"`
	WordCount         int                       `bson:"word_count"`
	CharacterCount    int                       `bson:"character_count"`
	FileSize          int64                     `bson:"file_size"`
	Status            string                    `bson:"status"`
	VideoInfo         *models.VideoInfo         `bson:"video_info,omitempty"`
	Insights          models.StructuredInsights `bson:"insights"`
	CreatedAt         time.Time                 `bson:"created_at"`
	UpdatedAt         time.Time                 `bson:"updated_at"`
}

func (d *transcriptDoc) record() (*models.TranscriptRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid transcript id %q: %w", d.ID, err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", d.UserID, err)
	}
	return &models.TranscriptRecord{
		ID:                id,
		UserID:            userID,
		SourceRef:         d.SourceRef,
		SourceType:        d.SourceType,
		Title:             d.Title,
		Duration:          d.Duration,
		DurationFormatted: d.DurationFormatted,
		Transcript:        d.Transcript,
		Method:            d.Method,
		Language:          d.Language,
		WordCount:         d.WordCount,
		CharacterCount:    d.CharacterCount,
		FileSize:          d.FileSize,
		Status:            d.Status,
		VideoInfo:         d.VideoInfo,
		Insights:          d.Insights,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, nil
}

type categoricalDoc struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"user_id"`
	Name             string    `bson:"name"`
	URL              *string   `bson:"url"`
	Description      string    `bson:"description"`
	Transcript       string    `bson:"transcript"`
	Duration         int       `bson:"duration"`
	SourceType       string    `bson:"source_type"`
	SourceID         string    `bson:"source_id,omitempty"`
	WordCount        int       `bson:"word_count"`
	CharacterCount   int       `bson:"character_count"`
	Keywords         []string  `bson:"keywords"`
	Topics           []string  `bson:"topics"`
	KeyPhrases       []string  `bson:"key_phrases"`
	SentimentScore   float64   `bson:"sentiment_score"`
	SentimentLabel   string    `bson:"sentiment_label"`
	Language         string    `bson:"language"`
	ReadabilityScore float64   `bson:"readability_score"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func (d *categoricalDoc) video() (*models.CategoricalVideo, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid categorical id %q: %w", d.ID, err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", d.UserID, err)
	}
	cv := &models.CategoricalVideo{
		VideoID:          id,
		UserID:           userID,
		Name:             d.Name,
		URL:              d.URL,
		Description:      d.Description,
		Transcript:       d.Transcript,
		Duration:         d.Duration,
		SourceType:       d.SourceType,
		WordCount:        d.WordCount,
		CharacterCount:   d.CharacterCount,
		Keywords:         nonNil(d.Keywords),
		Topics:           nonNil(d.Topics),
		KeyPhrases:       nonNil(d.KeyPhrases),
		SentimentScore:   d.SentimentScore,
		SentimentLabel:   d.SentimentLabel,
		Language:         d.Language,
		ReadabilityScore: d.ReadabilityScore,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.SourceID != "" {
		sid, err := uuid.Parse(d.SourceID)
		if err != nil {
			return nil, fmt.Errorf("invalid source id %q: %w", d.SourceID, err)
		}
		cv.SourceID = &sid
	}
	return cv, nil
}

func (r *MongoBackend) UpsertTranscript(ctx context.Context, rec *models.TranscriptRecord) (uuid.UUID, error) {
	filter := bson.M{"user_id": rec.UserID.String(), "source_ref": rec.SourceRef}
	set := bson.M{
		"source_type":        rec.SourceType,
		"title":              rec.Title,
		"duration":           rec.Duration,
		"duration_formatted": rec.DurationFormatted,
		"transcript":         rec.Transcript,
		"method":             rec.Method,
		"language":           rec.Language,
		"word_count":         rec.WordCount,
		"character_count":    rec.CharacterCount,
		"file_size":          rec.FileSize,
		"status":             rec.Status,
		"video_info":         rec.VideoInfo,
		"insights":           rec.Insights,
		"updated_at":         rec.UpdatedAt,
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"_id": rec.ID.String(), "created_at": rec.CreatedAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored transcriptDoc
	if err := r.transcripts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert transcript: %w", err)
	}
	rec.CreatedAt = stored.CreatedAt
	return uuid.Parse(stored.ID)
}

func (r *MongoBackend) findTranscript(ctx context.Context, filter bson.M) (*models.TranscriptRecord, error) {
	var doc transcriptDoc
	err := r.transcripts.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.record()
}

func (r *MongoBackend) FindTranscriptBySource(ctx context.Context, userID uuid.UUID, source string) (*models.TranscriptRecord, error) {
	return r.findTranscript(ctx, bson.M{"user_id": userID.String(), "source_ref": source})
}

func (r *MongoBackend) FindTranscript(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error) {
	return r.findTranscript(ctx, bson.M{"_id": id.String(), "user_id": userID.String()})
}

func (r *MongoBackend) ListTranscripts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error) {
	filter := bson.M{"user_id": userID.String()}
	total, err := r.transcripts.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transcripts: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	recs, err := r.findTranscripts(ctx, filter, opts)
	return recs, int(total), err
}

func (r *MongoBackend) SearchTranscripts(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error) {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{
		"user_id": userID.String(),
		"$or": bson.A{
			bson.M{"title": pattern},
			bson.M{"transcript": pattern},
			bson.M{"video_info.uploader": pattern},
			bson.M{"video_info.tags": pattern},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	return r.findTranscripts(ctx, filter, opts)
}

func (r *MongoBackend) findTranscripts(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]*models.TranscriptRecord, error) {
	cursor, err := r.transcripts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer cursor.Close(ctx)

	out := []*models.TranscriptRecord{}
	for cursor.Next(ctx) {
		var doc transcriptDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cursor.Err()
}

func (r *MongoBackend) DeleteTranscript(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	res, err := r.transcripts.DeleteOne(ctx, bson.M{"_id": id.String(), "user_id": userID.String()})
	if err != nil {
		return false, err
	}
	if res.DeletedCount == 0 {
		return false, nil
	}
	if _, err := r.categorical.DeleteMany(ctx, bson.M{"source_id": id.String()}); err != nil {
		return true, fmt.Errorf("transcript deleted but categorical cleanup failed: %w", err)
	}
	return true, nil
}

func (r *MongoBackend) DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{"created_at": bson.M{"$lt": cutoff}}
	cursor, err := r.transcripts.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, err
	}
	var ids []string
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&row); err == nil {
			ids = append(ids, row.ID)
		}
	}
	cursor.Close(ctx)
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := r.transcripts.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	if _, err := r.categorical.DeleteMany(ctx, bson.M{"source_id": bson.M{"$in": ids}}); err != nil {
		return res.DeletedCount, fmt.Errorf("categorical cleanup failed: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *MongoBackend) UpsertCategorical(ctx context.Context, cv *models.CategoricalVideo) error {
	doc := categoricalDoc{
		ID:               cv.VideoID.String(),
		UserID:           cv.UserID.String(),
		Name:             cv.Name,
		URL:              cv.URL,
		Description:      cv.Description,
		Transcript:       cv.Transcript,
		Duration:         cv.Duration,
		SourceType:       cv.SourceType,
		WordCount:        cv.WordCount,
		CharacterCount:   cv.CharacterCount,
		Keywords:         nonNil(cv.Keywords),
		Topics:           nonNil(cv.Topics),
		KeyPhrases:       nonNil(cv.KeyPhrases),
		SentimentScore:   cv.SentimentScore,
		SentimentLabel:   cv.SentimentLabel,
		Language:         cv.Language,
		ReadabilityScore: cv.ReadabilityScore,
		CreatedAt:        cv.CreatedAt,
		UpdatedAt:        cv.UpdatedAt,
	}

	if cv.SourceID == nil {
		_, err := r.categorical.InsertOne(ctx, doc)
		return err
	}
	doc.SourceID = cv.SourceID.String()

	set, err := bsonWithout(doc, "_id", "created_at")
	if err != nil {
		return err
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"_id": doc.ID, "created_at": doc.CreatedAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored categoricalDoc
	if err := r.categorical.FindOneAndUpdate(ctx, bson.M{"source_id": doc.SourceID}, update, opts).Decode(&stored); err != nil {
		return fmt.Errorf("failed to upsert categorical entry: %w", err)
	}
	if id, err := uuid.Parse(stored.ID); err == nil {
		cv.VideoID = id
	}
	return nil
}

func (r *MongoBackend) FindCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error) {
	var doc categoricalDoc
	err := r.categorical.FindOne(ctx, bson.M{"_id": videoID.String(), "user_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.video()
}

func (r *MongoBackend) ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error) {
	filter := bson.M{"user_id": userID.String()}
	if sourceType != "" {
		filter["source_type"] = sourceType
	}
	cursor, err := r.categorical.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []*models.CategoricalVideo{}
	for cursor.Next(ctx) {
		var doc categoricalDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		cv, err := doc.video()
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, cursor.Err()
}

func (r *MongoBackend) missingPipeline(userID uuid.UUID) mongo.Pipeline {
	match := bson.M{}
	if userID != AllUsers {
		match["user_id"] = userID.String()
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$lookup", Value: bson.M{
			"from":         categoricalCollection,
			"localField":   "_id",
			"foreignField": "source_id",
			"as":           "categorical",
		}}},
		{{Key: "$match", Value: bson.M{"categorical": bson.M{"$size": 0}}}},
		{{Key: "$project", Value: bson.M{"categorical": 0}}},
	}
}

func (r *MongoBackend) TranscriptsMissingCategorical(ctx context.Context, userID uuid.UUID) ([]*models.TranscriptRecord, error) {
	cursor, err := r.transcripts.Aggregate(ctx, r.missingPipeline(userID))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []*models.TranscriptRecord{}
	for cursor.Next(ctx) {
		var doc transcriptDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cursor.Err()
}

func (r *MongoBackend) Stats(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID.String()}}},
		{{Key: "$group", Value: bson.M{
			"_id":        nil,
			"total":      bson.M{"$sum": 1},
			"words":      bson.M{"$sum": "$word_count"},
			"characters": bson.M{"$sum": "$character_count"},
			"file_size":  bson.M{"$sum": "$file_size"},
			"avg_dur":    bson.M{"$avg": "$duration"},
			"avg_words":  bson.M{"$avg": "$word_count"},
			"urls":       bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$source_type", models.SourceTypeURL}}, 1, 0}}},
			"uploads":    bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$source_type", models.SourceTypeUpload}}, 1, 0}}},
		}}},
	}
	cursor, err := r.transcripts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	var row struct {
		Total      int64   `bson:"total"`
		Words      int64   `bson:"words"`
		Characters int64   `bson:"characters"`
		FileSize   int64   `bson:"file_size"`
		AvgDur     float64 `bson:"avg_dur"`
		AvgWords   float64 `bson:"avg_words"`
		URLs       int64   `bson:"urls"`
		Uploads    int64   `bson:"uploads"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
	}

	categorical, err := r.categorical.CountDocuments(ctx, bson.M{"user_id": userID.String()})
	if err != nil {
		return nil, err
	}

	countPipeline := append(r.missingPipeline(userID), bson.D{{Key: "$count", Value: "n"}})
	missingCursor, err := r.transcripts.Aggregate(ctx, countPipeline)
	if err != nil {
		return nil, err
	}
	defer missingCursor.Close(ctx)
	var missing struct {
		N int64 `bson:"n"`
	}
	if missingCursor.Next(ctx) {
		if err := missingCursor.Decode(&missing); err != nil {
			return nil, err
		}
	}

	return &models.AggregateStats{
		TotalTranscripts:   int(row.Total),
		TotalWords:         row.Words,
		TotalCharacters:    row.Characters,
		TotalFileSize:      row.FileSize,
		AverageDuration:    row.AvgDur,
		AverageWordCount:   row.AvgWords,
		URLCount:           int(row.URLs),
		UploadCount:        int(row.Uploads),
		CategoricalCount:   int(categorical),
		MissingCategorical: int(missing.N),
	}, nil
}

// bsonWithout marshals v and drops the named top-level keys.
func bsonWithout(v interface{}, keys ...string) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, k := range keys {
		delete(m, k)
	}
	return m, nil
}
