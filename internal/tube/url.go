package tube

import (
	"errors"
	"net/url"
	"strings"
)

var ErrInvalidURL = errors.New("invalid youtube url")

// ExtractVideoID returns the video id of a youtu.be/<id> link or of any url with a v= query parameter.
func ExtractVideoID(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}

	if strings.EqualFold(u.Host, "youtu.be") {
		id, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		return id, id != ""
	}

	id := u.Query().Get("v")
	return id, id != ""
}

func WatchURL(videoId string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoId)
}
