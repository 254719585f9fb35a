package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

const contentColumns = `content_id, content_type, youtube_url, transcript, title, thumbnail_url, processed_at`

func scanContent(row interface{ Scan(...interface{}) error }, i *Content) error {
	return row.Scan(
		&i.ContentID,
		&i.ContentType,
		&i.YoutubeUrl,
		&i.Transcript,
		&i.Title,
		&i.ThumbnailUrl,
		&i.ProcessedAt,
	)
}

const getContent = `SELECT ` + contentColumns + ` FROM contents WHERE content_id = $1`

func (q *Queries) GetContent(ctx context.Context, contentID string) (Content, error) {
	row := q.db.QueryRowContext(ctx, getContent, contentID)
	var i Content
	err := scanContent(row, &i)
	return i, err
}

// Existing non-empty fields win, only missing ones are filled in.
const upsertContent = `
INSERT INTO contents (content_id, content_type, youtube_url, transcript, title, thumbnail_url)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (content_id) DO UPDATE SET
    youtube_url   = COALESCE(NULLIF(contents.youtube_url, ''), EXCLUDED.youtube_url),
    transcript    = COALESCE(NULLIF(contents.transcript, ''), EXCLUDED.transcript),
    title         = COALESCE(NULLIF(contents.title, ''), EXCLUDED.title),
    thumbnail_url = COALESCE(NULLIF(contents.thumbnail_url, ''), EXCLUDED.thumbnail_url)
RETURNING ` + contentColumns

type UpsertContentParams struct {
	ContentID    string
	ContentType  string
	YoutubeUrl   sql.NullString
	Transcript   sql.NullString
	Title        sql.NullString
	ThumbnailUrl sql.NullString
}

func (q *Queries) UpsertContent(ctx context.Context, arg UpsertContentParams) (Content, error) {
	row := q.db.QueryRowContext(ctx, upsertContent,
		arg.ContentID,
		arg.ContentType,
		arg.YoutubeUrl,
		arg.Transcript,
		arg.Title,
		arg.ThumbnailUrl,
	)
	var i Content
	err := scanContent(row, &i)
	return i, err
}

const getPlace = `SELECT place_id, name, lat, lng FROM places WHERE name = $1 AND lat = $2 AND lng = $3`

type GetPlaceParams struct {
	Name string
	Lat  float64
	Lng  float64
}

func (q *Queries) GetPlace(ctx context.Context, arg GetPlaceParams) (Place, error) {
	row := q.db.QueryRowContext(ctx, getPlace, arg.Name, arg.Lat, arg.Lng)
	var i Place
	err := row.Scan(&i.PlaceID, &i.Name, &i.Lat, &i.Lng)
	return i, err
}

const createPlace = `INSERT INTO places (name, lat, lng) VALUES ($1, $2, $3) RETURNING place_id, name, lat, lng`

type CreatePlaceParams struct {
	Name string
	Lat  float64
	Lng  float64
}

func (q *Queries) CreatePlace(ctx context.Context, arg CreatePlaceParams) (Place, error) {
	row := q.db.QueryRowContext(ctx, createPlace, arg.Name, arg.Lat, arg.Lng)
	var i Place
	err := row.Scan(&i.PlaceID, &i.Name, &i.Lat, &i.Lng)
	return i, err
}

const linkContentPlace = `
INSERT INTO content_places (content_id, place_id) VALUES ($1, $2)
ON CONFLICT (content_id, place_id) DO NOTHING`

type LinkContentPlaceParams struct {
	ContentID string
	PlaceID   int64
}

func (q *Queries) LinkContentPlace(ctx context.Context, arg LinkContentPlaceParams) error {
	_, err := q.db.ExecContext(ctx, linkContentPlace, arg.ContentID, arg.PlaceID)
	return err
}

const createHistory = `
INSERT INTO user_content_history (user_id, content_id) VALUES ($1, $2)
RETURNING id, user_id, content_id, created_at`

type CreateHistoryParams struct {
	UserID    int64
	ContentID string
}

func (q *Queries) CreateHistory(ctx context.Context, arg CreateHistoryParams) (UserContentHistory, error) {
	row := q.db.QueryRowContext(ctx, createHistory, arg.UserID, arg.ContentID)
	var i UserContentHistory
	err := row.Scan(&i.ID, &i.UserID, &i.ContentID, &i.CreatedAt)
	return i, err
}

const countHistory = `SELECT count(*) FROM user_content_history WHERE user_id = $1 AND content_id = $2`

type CountHistoryParams struct {
	UserID    int64
	ContentID string
}

func (q *Queries) CountHistory(ctx context.Context, arg CountHistoryParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countHistory, arg.UserID, arg.ContentID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const placesForContents = `
SELECT cp.content_id, p.place_id, p.name, p.lat, p.lng
FROM content_places cp
JOIN places p ON p.place_id = cp.place_id
WHERE cp.content_id = ANY($1::varchar[])
ORDER BY cp.content_id, cp.id`

type PlacesForContentsRow struct {
	ContentID string
	Place     Place
}

func (q *Queries) PlacesForContents(ctx context.Context, contentIDs []string) ([]PlacesForContentsRow, error) {
	rows, err := q.db.QueryContext(ctx, placesForContents, pq.Array(contentIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PlacesForContentsRow
	for rows.Next() {
		var i PlacesForContentsRow
		if err := rows.Scan(
			&i.ContentID,
			&i.Place.PlaceID,
			&i.Place.Name,
			&i.Place.Lat,
			&i.Place.Lng,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const historyForUser = `
SELECT h.id, h.user_id, h.content_id, h.created_at,
       c.content_id, c.content_type, c.youtube_url, c.transcript, c.title, c.thumbnail_url, c.processed_at
FROM user_content_history h
JOIN contents c ON c.content_id = h.content_id
WHERE h.user_id = $1
ORDER BY h.created_at DESC, h.id DESC`

type HistoryForUserRow struct {
	History UserContentHistory
	Content Content
}

func (q *Queries) HistoryForUser(ctx context.Context, userID int64) ([]HistoryForUserRow, error) {
	rows, err := q.db.QueryContext(ctx, historyForUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []HistoryForUserRow
	for rows.Next() {
		var i HistoryForUserRow
		if err := rows.Scan(
			&i.History.ID,
			&i.History.UserID,
			&i.History.ContentID,
			&i.History.CreatedAt,
			&i.Content.ContentID,
			&i.Content.ContentType,
			&i.Content.YoutubeUrl,
			&i.Content.Transcript,
			&i.Content.Title,
			&i.Content.ThumbnailUrl,
			&i.Content.ProcessedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
