package tube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/laytan/pind/internal/retry"
	"github.com/sirupsen/logrus"
)

const (
	EndpointVideo = "https://www.googleapis.com/youtube/v3/videos"
	EndpointWatch = "https://www.youtube.com/watch"
)

var (
	ErrNotOk          = errors.New("unexpected non 200 status code")
	ErrToManyRequests = errors.New("too many requests")
	ErrNoCaptions     = errors.New("no caption tracks")
	ErrUnavailable    = errors.New("video unavailable")
	ErrNotFound       = errors.New("not found")
	ErrQuotaExceeded  = errors.New("quota exceeded")
)

type Thumbnail struct {
	Url    string
	Width  int
	Height int
}

// Client talks to YouTube. Key is optional, without it metadata is scraped from the watch page.
type Client struct {
	Key     string
	HTTP    *http.Client
	Log     logrus.FieldLogger
	Retry   retry.Config
	Timeout time.Duration

	// Overridable for tests.
	VideoEndpoint string
	WatchEndpoint string
}

func NewClient(key string, log logrus.FieldLogger) *Client {
	return &Client{
		Key:           key,
		HTTP:          &http.Client{},
		Log:           log,
		Retry:         retry.Default,
		Timeout:       30 * time.Second,
		VideoEndpoint: EndpointVideo,
		WatchEndpoint: EndpointWatch,
	}
}

func (c *Client) watchPage(videoId string) string {
	return c.WatchEndpoint + "?v=" + url.QueryEscape(videoId)
}

// get does a single GET and returns the body, non 200 responses are returned as errors.
func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	// Without this YouTube sometimes serves the consent page or another language.
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", req.URL.Path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		if retry.RetryableStatus(res.StatusCode) {
			return nil, fmt.Errorf("%w: %w", &retry.StatusError{StatusCode: res.StatusCode}, ErrNotOk)
		}
		if res.StatusCode == http.StatusForbidden {
			return nil, ErrQuotaExceeded
		}
		return nil, fmt.Errorf("got code %d: %w", res.StatusCode, ErrNotOk)
	}

	return body, nil
}

// getRetry is get with backoff, only for idempotent reads.
func (c *Client) getRetry(ctx context.Context, target string) ([]byte, error) {
	return retry.Do(ctx, c.Retry, c.Log, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, target)
	})
}

type ResVideos struct {
	Items []ResVideo
	// There is more but not needed.
}

type ResVideo struct {
	Snippet struct {
		PublishedAt string
		ChannelId   string
		Title       string
		Thumbnails  map[string]Thumbnail
		// There is more but not needed.
	}
}

// Video uses the data API, uses 1 quota.
func (c *Client) Video(ctx context.Context, id string) (*ResVideo, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("id", id)
	q.Set("key", c.Key)

	body, err := c.get(ctx, c.VideoEndpoint+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("video %q request: %w", id, err)
	}

	result := ResVideos{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling videos response %q: %w", string(body), err)
	}

	if len(result.Items) == 0 {
		return nil, fmt.Errorf("videos result has no items: %w", ErrNotFound)
	}

	return &result.Items[0], nil
}

var thumbResses = []string{"maxres", "high", "medium", "standard", "default"}

// HighestResThumbnail returns false if there are no thumbnails at all.
func HighestResThumbnail(thumbs map[string]Thumbnail) (Thumbnail, bool) {
	for _, res := range thumbResses {
		if thumb, ok := thumbs[res]; ok && thumb.Url != "" {
			return thumb, true
		}
	}

	return Thumbnail{}, false
}
