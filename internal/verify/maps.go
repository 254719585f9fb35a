package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/laytan/pind/internal/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"
)

// Maps is a PlaceSearcher backed by the Google Places text search and Geocoding APIs.
type Maps struct {
	Client   *maps.Client
	Language string
	Limiter  *rate.Limiter
	Timeout  time.Duration
	Retry    retry.Config
	Log      logrus.FieldLogger
}

type MapsOptions struct {
	APIKey   string
	Language string
	QPS      float64
	Timeout  time.Duration
	BaseURL  string
}

func NewMaps(opts MapsOptions, log logrus.FieldLogger) (*Maps, error) {
	clientOpts := []maps.ClientOption{maps.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(opts.BaseURL))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating maps client: %w", err)
	}

	limit := rate.Inf
	if opts.QPS > 0 {
		limit = rate.Limit(opts.QPS)
	}

	return &Maps{
		Client:   client,
		Language: opts.Language,
		Limiter:  rate.NewLimiter(limit, 1),
		Timeout:  opts.Timeout,
		Retry:    retry.Default,
		Log:      log,
	}, nil
}

func (m *Maps) SearchText(ctx context.Context, query string, near *Point, radius uint) ([]Hit, error) {
	req := &maps.TextSearchRequest{
		Query:    query,
		Language: m.Language,
	}
	if near != nil {
		req.Location = &maps.LatLng{Lat: near.Lat, Lng: near.Lng}
		req.Radius = radius
	}

	res, err := call(ctx, m, func(ctx context.Context) (maps.PlacesSearchResponse, error) {
		return m.Client.TextSearch(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("text search %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Results))
	for _, r := range res.Results {
		hits = append(hits, Hit{
			PlaceID:          r.PlaceID,
			Name:             r.Name,
			FormattedAddress: r.FormattedAddress,
			Location:         Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
			Rating:           float64(r.Rating),
			Types:            r.Types,
		})
	}
	return hits, nil
}

func (m *Maps) Geocode(ctx context.Context, address string) (*Point, error) {
	res, err := call(ctx, m, func(ctx context.Context) ([]maps.GeocodingResult, error) {
		return m.Client.Geocode(ctx, &maps.GeocodingRequest{
			Address:  address,
			Language: m.Language,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", address, err)
	}

	if len(res) == 0 {
		return nil, nil
	}

	loc := res[0].Geometry.Location
	return &Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// call waits for the limiter and retries transient failures, each attempt gets its own timeout.
func call[T any](ctx context.Context, m *Maps, fn func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, m.Retry, m.Log, func(ctx context.Context) (T, error) {
		var zero T
		if err := m.Limiter.Wait(ctx); err != nil {
			return zero, err
		}

		if m.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.Timeout)
			defer cancel()
		}

		v, err := fn(ctx)
		if err != nil && transientStatus(err) {
			return zero, fmt.Errorf("%w: %w", retry.ErrTransient, err)
		}
		return v, err
	})
}

// The maps client reports API statuses as "maps: STATUS - message".
func transientStatus(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "OVER_QUERY_LIMIT") || strings.Contains(msg, "UNKNOWN_ERROR")
}
