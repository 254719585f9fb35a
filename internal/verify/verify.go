package verify

import (
	"context"
	"fmt"

	"github.com/laytan/pind/internal/geo"
	"github.com/laytan/pind/internal/llm"
	"github.com/laytan/pind/internal/stem"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Method string

const (
	MethodMatch     Method = "name_and_coordinates_match"
	MethodCorrected Method = "name_match_coordinates_corrected"
	MethodAdded     Method = "name_match_coordinates_added"
	MethodFailed    Method = "verification_failed"
)

const (
	DefaultThreshold = 2.0   // km
	DefaultRadius    = 20000 // m
)

type Point struct {
	Lat float64
	Lng float64
}

// Hit is one place search result as the mapping service ranks it.
type Hit struct {
	PlaceID          string
	Name             string
	FormattedAddress string
	Location         Point
	Rating           float64
	Types            []string
}

// PlaceSearcher is the narrow part of a mapping service the verifier needs.
// Geocode returns nil without error when the address is unknown.
type PlaceSearcher interface {
	SearchText(ctx context.Context, query string, near *Point, radius uint) ([]Hit, error)
	Geocode(ctx context.Context, address string) (*Point, error)
}

// Place is a verified place, its coordinates are always set.
type Place struct {
	Name             string   `json:"name"`
	Lat              float64  `json:"lat"`
	Lng              float64  `json:"lng"`
	PlaceID          string   `json:"place_id,omitempty"`
	FormattedAddress string   `json:"formatted_address,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
	Types            []string `json:"types,omitempty"`
}

type Result struct {
	Original   llm.Candidate
	Verified   *Place
	Method     Method
	DistanceKm *float64
}

type Verifier struct {
	Search      PlaceSearcher
	Radius      uint
	ThresholdKm float64
	Concurrency int
	Log         logrus.FieldLogger
}

// Center geocodes the region, nil if there is none or it can't be found.
func (v *Verifier) Center(ctx context.Context, region string) *Point {
	if region == "" {
		return nil
	}

	log := v.Log.WithField("region", region)
	p, err := v.Search.Geocode(ctx, region)
	if err != nil {
		log.WithError(err).Warn("geocoding region failed, searching unscoped")
		return nil
	}
	if p == nil {
		log.Warn("region not found, searching unscoped")
		return nil
	}

	log.WithFields(logrus.Fields{"lat": p.Lat, "lng": p.Lng}).Debug("scoping search to region")
	return p
}

// VerifyOne verifies a single candidate, scoped to region when given.
func (v *Verifier) VerifyOne(ctx context.Context, c llm.Candidate, region string) Result {
	return v.verify(ctx, c, v.Center(ctx, region))
}

func (v *Verifier) verify(ctx context.Context, c llm.Candidate, center *Point) Result {
	log := v.Log.WithField("candidate", c.Name)

	radius := uint(0)
	if center != nil {
		radius = v.radius()
	}

	hits, err := v.Search.SearchText(ctx, c.Name, center, radius)
	if err != nil {
		log.WithError(err).Warn("place search failed")
		return Result{Original: c, Method: MethodFailed}
	}
	if len(hits) == 0 {
		log.Warn("no place search results, dropping candidate")
		return Result{Original: c, Method: MethodFailed}
	}

	top := hits[0]
	place := &Place{
		Name:             top.Name,
		Lat:              top.Location.Lat,
		Lng:              top.Location.Lng,
		PlaceID:          top.PlaceID,
		FormattedAddress: top.FormattedAddress,
		Types:            top.Types,
	}
	if place.Name == "" {
		place.Name = c.Name
	}
	if top.Rating > 0 {
		rating := top.Rating
		place.Rating = &rating
	}

	method, dist := Reconcile(c, place, v.threshold())
	if stem.Key(c.Name) != stem.Key(place.Name) {
		log.WithField("place", place.Name).Debug("verified under another name")
	}
	return Result{Original: c, Verified: place, Method: method, DistanceKm: dist}
}

// Reconcile decides which coordinates place keeps. When the candidate's own coordinates
// are within thresholdKm of the authoritative ones they are kept, otherwise the authoritative
// ones are.
func Reconcile(c llm.Candidate, place *Place, thresholdKm float64) (Method, *float64) {
	if !c.HasCoordinates() {
		return MethodAdded, nil
	}

	dist := geo.Distance(*c.Lat, *c.Lng, place.Lat, place.Lng)
	if dist <= thresholdKm {
		place.Lat, place.Lng = *c.Lat, *c.Lng
		return MethodMatch, &dist
	}

	return MethodCorrected, &dist
}

// VerifyBatch verifies all candidates concurrently and returns the verified places in input order.
// A failing candidate is dropped and never fails the batch.
func (v *Verifier) VerifyBatch(ctx context.Context, cs []llm.Candidate, region string) []Place {
	results := v.VerifyAll(ctx, cs, region)

	places := make([]Place, 0, len(results))
	var dropped []string
	for _, res := range results {
		if res.Verified == nil {
			dropped = append(dropped, res.Original.Name)
			continue
		}
		places = append(places, *res.Verified)
	}

	log := v.Log.WithFields(logrus.Fields{
		"region":   region,
		"verified": len(places),
		"total":    len(cs),
	})
	if len(dropped) > 0 {
		log.WithField("dropped", dropped).Warn("verified candidates, some were dropped")
		return places
	}
	log.Info("verified candidates")

	return places
}

// VerifyAll is VerifyBatch keeping every outcome, including failures.
func (v *Verifier) VerifyAll(ctx context.Context, cs []llm.Candidate, region string) []Result {
	if len(cs) == 0 {
		return nil
	}

	center := v.Center(ctx, region)
	results := make([]Result, len(cs))

	// Not errgroup.WithContext, one candidate failing must not cancel the others.
	var group errgroup.Group
	if v.Concurrency > 0 {
		group.SetLimit(v.Concurrency)
	}
	for i, c := range cs {
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					v.Log.WithField("candidate", c.Name).Error(fmt.Sprintf("verification panicked: %v", r))
					results[i] = Result{Original: c, Method: MethodFailed}
				}
			}()

			results[i] = v.verify(ctx, c, center)
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func (v *Verifier) threshold() float64 {
	if v.ThresholdKm <= 0 {
		return DefaultThreshold
	}
	return v.ThresholdKm
}

func (v *Verifier) radius() uint {
	if v.Radius == 0 {
		return DefaultRadius
	}
	return v.Radius
}
