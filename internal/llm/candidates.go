package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/laytan/pind/internal/stem"
	"github.com/sirupsen/logrus"
)

type CandidateSource string

const (
	SourceModel    CandidateSource = "model"
	SourceVerified CandidateSource = "verified"
)

var ErrMalformed = errors.New("malformed model response")

// Candidate is a place the model thinks is mentioned, coordinates are nil when unknown.
type Candidate struct {
	Name       string
	Lat        *float64
	Lng        *float64
	Confidence float64
	Source     CandidateSource
}

func (c Candidate) HasCoordinates() bool {
	return c.Lat != nil && c.Lng != nil
}

const extractSystem = "You extract restaurant and cafe names from video transcripts and answer with JSON only."

const extractPrompt = `You are an expert AI specializing in analyzing YouTube food vlogs to extract restaurant and cafe names.
Your task is to identify all the specific names of places like restaurants, cafes, bakeries, and food stalls that the vlogger visits or mentions in the provided script.

**Instructions:**
1.  Focus only on specific, proper names of establishments (e.g., "Fengmi Bunsik", "Cafe Waileddeog").
2.  Exclude general locations like "Yaksu-dong" or "near Yaksu Station" unless they are part of a specific store name. Do not extract addresses or names of people.
3.  Return the results as a JSON array of objects. Each object must contain "name", "lat", and "lng" keys.
4.  For "lat" and "lng", provide the best available coordinates from Google Maps.
5.  **If you cannot find the precise coordinates for a place, use ` + "`null`" + ` for the "lat" and "lng" values.** Do not exclude the location from the list.
6.  The final output must be only the JSON array, with no other text or explanations.

**Example:**
Text: "First, I went to Gold Pâtisserie for some bread, then had lunch at a place called Daehan Gukbap. I also heard about a new place called 'Secret Spot' but couldn't find it."
Correct Output:
[
    {"name": "Gold Pâtisserie", "lat": 37.5, "lng": 127.0},
    {"name": "Daehan Gukbap", "lat": 37.5, "lng": 127.0},
    {"name": "Secret Spot", "lat": null, "lng": null}
]

**Now, analyze the following text:**
---
Text: "%s"
---
JSON Result:`

type Extractor struct {
	LLM Completer
	Log logrus.FieldLogger
}

// Extract asks the model for place candidates. An empty transcript makes no call.
// Output that cannot be parsed is logged and results in no candidates, only a failing
// model call is returned as an error.
func (e *Extractor) Extract(ctx context.Context, transcript string) ([]Candidate, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	raw, err := e.LLM.Complete(ctx, extractSystem, fmt.Sprintf(extractPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("extracting candidates: %w", err)
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		e.Log.WithError(err).WithField("raw", raw).Warn("could not parse candidates, continuing without")
		return []Candidate{}, nil
	}

	e.Log.WithField("candidates", len(candidates)).Info("extracted candidates")
	return candidates, nil
}

var trailingCommas = regexp.MustCompile(`,\s*([\]}])`)

// StripFences removes a markdown code fence around s.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop the info string, json or otherwise.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type rawCandidate struct {
	Name string `json:"name"`
	Lat  any    `json:"lat"`
	Lng  any    `json:"lng"`
}

// ParseCandidates reads the model's answer, either a bare array or {"locations": [...]}.
// Entries without a name are skipped, repeated names (case and punctuation folded) are merged.
func ParseCandidates(raw string) ([]Candidate, error) {
	s := StripFences(raw)
	s = trailingCommas.ReplaceAllString(s, "$1")
	if s == "" {
		return nil, fmt.Errorf("empty response: %w", ErrMalformed)
	}

	var items []rawCandidate
	switch s[0] {
	case '[':
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	case '{':
		var wrapped struct {
			Locations []rawCandidate `json:"locations"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		items = wrapped.Locations
	default:
		return nil, fmt.Errorf("not json: %w", ErrMalformed)
	}

	out := make([]Candidate, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		key := stem.Fold(name)
		if key == "" {
			continue
		}

		lat, latOk := coordinate(item.Lat, 90)
		lng, lngOk := coordinate(item.Lng, 180)
		c := Candidate{Name: name, Confidence: 1.0, Source: SourceModel}
		if latOk && lngOk {
			c.Lat, c.Lng = &lat, &lng
		}

		if i, ok := seen[key]; ok {
			if !out[i].HasCoordinates() && c.HasCoordinates() {
				out[i].Lat, out[i].Lng = c.Lat, c.Lng
			}
			continue
		}

		seen[key] = len(out)
		out = append(out, c)
	}

	return out, nil
}

// coordinate accepts numbers and numeric strings within [-limit, limit].
func coordinate(v any, limit float64) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if f < -limit || f > limit {
		return 0, false
	}
	return f, true
}
