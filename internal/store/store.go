package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/laytan/pind/internal/store/migrations"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

// SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Open connects to postgres and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Migrate brings the schema up to date with the embedded migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// Store is the persisted result graph of contents, places and user history.
type Store struct {
	Db      *sql.DB
	Queries *Queries
	Log     logrus.FieldLogger
}

func NewStore(db *sql.DB, log logrus.FieldLogger) *Store {
	return &Store{Db: db, Queries: New(db), Log: log}
}

// GetContent returns nil without error when the content is not stored.
func (s *Store) GetContent(ctx context.Context, videoId string) (*Content, error) {
	content, err := s.Queries.GetContent(ctx, videoId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving content %q: %w", videoId, err)
	}

	return &content, nil
}

type ContentInput struct {
	VideoID    string
	Type       ContentType
	URL        string
	Transcript string
	Title      string
	Thumbnail  string
}

// UpsertContent creates the content or fills the fields it is still missing, never overwriting.
func (s *Store) UpsertContent(ctx context.Context, in ContentInput) (*Content, error) {
	typ := in.Type
	if typ == "" {
		typ = ContentTypeYoutube
	}

	content, err := s.Queries.UpsertContent(ctx, UpsertContentParams{
		ContentID:    in.VideoID,
		ContentType:  string(typ),
		YoutubeUrl:   nullString(in.URL),
		Transcript:   nullString(in.Transcript),
		Title:        nullString(in.Title),
		ThumbnailUrl: nullString(in.Thumbnail),
	})
	if err != nil {
		return nil, fmt.Errorf("upserting content %q: %w", in.VideoID, err)
	}

	return &content, nil
}

// UpsertPlace returns the place with exactly this name and coordinates, creating it if needed.
// Losing an insert race to a concurrent caller rolls back and returns the winner's row.
func (s *Store) UpsertPlace(ctx context.Context, name string, lat, lng float64) (*Place, error) {
	params := GetPlaceParams{Name: name, Lat: lat, Lng: lng}
	if place, err := s.Queries.GetPlace(ctx, params); err == nil {
		return &place, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up place %q: %w", name, err)
	}

	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() // Rollback, ignore error which is returned if tx is committed.

	place, err := s.Queries.WithTx(tx).CreatePlace(ctx, CreatePlaceParams(params))
	if err == nil {
		err = tx.Commit()
	}
	if err == nil {
		return &place, nil
	}

	if !IsUniqueViolation(err) {
		return nil, fmt.Errorf("creating place %q: %w", name, err)
	}

	s.Log.WithField("place", name).Debug("lost place insert race, re-selecting")
	_ = tx.Rollback()

	place, err = s.Queries.GetPlace(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("re-selecting place %q after conflict: %w", name, err)
	}
	return &place, nil
}

// Link connects a content to a place, linking twice is a no-op.
func (s *Store) Link(ctx context.Context, videoId string, placeId int64) error {
	if err := s.Queries.LinkContentPlace(ctx, LinkContentPlaceParams{
		ContentID: videoId,
		PlaceID:   placeId,
	}); err != nil {
		return fmt.Errorf("linking %q to place %d: %w", videoId, placeId, err)
	}
	return nil
}

// RecordHistory notes that the user requested the content, duplicates are ignored.
func (s *Store) RecordHistory(ctx context.Context, userId int64, videoId string) error {
	_, err := s.Queries.CreateHistory(ctx, CreateHistoryParams{UserID: userId, ContentID: videoId})
	if err != nil && !IsUniqueViolation(err) {
		return fmt.Errorf("recording history of user %d for %q: %w", userId, videoId, err)
	}
	return nil
}

type PlaceInput struct {
	Name string
	Lat  float64
	Lng  float64
}

// SavePlaces upserts the places and links all of them to the content in one transaction.
// The content row must exist already.
func (s *Store) SavePlaces(ctx context.Context, videoId string, places []PlaceInput) ([]Place, error) {
	saved := make([]Place, 0, len(places))
	seen := make(map[int64]bool, len(places))
	for _, p := range places {
		place, err := s.UpsertPlace(ctx, p.Name, p.Lat, p.Lng)
		if err != nil {
			return nil, err
		}

		if !seen[place.PlaceID] {
			seen[place.PlaceID] = true
			saved = append(saved, *place)
		}
	}

	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() // Rollback, ignore error which is returned if tx is committed.

	qtx := s.Queries.WithTx(tx)
	for _, place := range saved {
		if err := qtx.LinkContentPlace(ctx, LinkContentPlaceParams{
			ContentID: videoId,
			PlaceID:   place.PlaceID,
		}); err != nil {
			return nil, fmt.Errorf("linking %q to place %d: %w", videoId, place.PlaceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing links: %w", err)
	}

	return saved, nil
}

func (s *Store) PlacesFor(ctx context.Context, videoId string) ([]Place, error) {
	rows, err := s.Queries.PlacesForContents(ctx, []string{videoId})
	if err != nil {
		return nil, fmt.Errorf("retrieving places of %q: %w", videoId, err)
	}

	places := make([]Place, 0, len(rows))
	for _, row := range rows {
		places = append(places, row.Place)
	}
	return places, nil
}

type HistoryEntry struct {
	Content   Content
	Places    []Place
	CreatedAt time.Time
}

// HistoryFor lists what the user requested, newest first.
func (s *Store) HistoryFor(ctx context.Context, userId int64) ([]HistoryEntry, error) {
	rows, err := s.Queries.HistoryForUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("retrieving history of user %d: %w", userId, err)
	}
	if len(rows) == 0 {
		return []HistoryEntry{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.Content.ContentID
	}

	placeRows, err := s.Queries.PlacesForContents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("retrieving places of history: %w", err)
	}

	byContent := make(map[string][]Place, len(rows))
	for _, row := range placeRows {
		byContent[row.ContentID] = append(byContent[row.ContentID], row.Place)
	}

	entries := make([]HistoryEntry, len(rows))
	for i, row := range rows {
		places := byContent[row.Content.ContentID]
		if places == nil {
			places = []Place{}
		}
		entries[i] = HistoryEntry{
			Content:   row.Content,
			Places:    places,
			CreatedAt: row.History.CreatedAt,
		}
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
