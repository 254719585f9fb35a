package store

import (
	"database/sql"
	"time"
)

type ContentType string

const (
	ContentTypeYoutube ContentType = "youtube"
)

type Content struct {
	ContentID    string
	ContentType  string
	YoutubeUrl   sql.NullString
	Transcript   sql.NullString
	Title        sql.NullString
	ThumbnailUrl sql.NullString
	ProcessedAt  time.Time
}

type Place struct {
	PlaceID int64
	Name    string
	Lat     float64
	Lng     float64
}

type ContentPlace struct {
	ID        int64
	ContentID string
	PlaceID   int64
}

type UserContentHistory struct {
	ID        int64
	UserID    int64
	ContentID string
	CreatedAt time.Time
}
