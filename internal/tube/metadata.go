package tube

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type Metadata struct {
	Title     string
	Thumbnail string
}

// Metadata fetches the title and thumbnail once, no retries.
// The data API is used when a key is configured, the watch page otherwise.
func (c *Client) Metadata(ctx context.Context, videoId string) (Metadata, error) {
	if c.Key != "" {
		video, err := c.Video(ctx, videoId)
		if err == nil {
			md := Metadata{Title: video.Snippet.Title}
			if thumb, ok := HighestResThumbnail(video.Snippet.Thumbnails); ok {
				md.Thumbnail = thumb.Url
			}
			return md, nil
		}

		c.Log.WithError(err).WithField("video_id", videoId).Warn("data api metadata failed, scraping watch page")
	}

	body, err := c.get(ctx, c.watchPage(videoId))
	if err != nil {
		return Metadata{}, fmt.Errorf("requesting watch page: %w", err)
	}

	return parseWatchMetadata(body)
}

func parseWatchMetadata(body []byte) (Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Metadata{}, fmt.Errorf("parsing watch page: %w", err)
	}

	meta := func(prop string) string {
		v, _ := doc.Find(`meta[property="` + prop + `"]`).First().Attr("content")
		return strings.TrimSpace(v)
	}

	md := Metadata{
		Title:     meta("og:title"),
		Thumbnail: meta("og:image"),
	}
	if md.Title == "" {
		md.Title = strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), " - YouTube")
	}

	if md.Title == "" && md.Thumbnail == "" {
		return md, ErrNotFound
	}
	return md, nil
}
