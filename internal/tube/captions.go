package tube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
)

type ResCaptionsList struct {
	PlayerCaptionsTrackListRenderer struct {
		CaptionTracks []ResTrack
		// There is more, ex:
		// AudioTracks
		// TranslationLanguages
	}
}

type ResTrack struct {
	BaseUrl string
	Name    struct {
		SimpleText string
	}
	LanguageCode   string
	Kind           string
	IsTranslatable bool
}

type Transcript struct {
	Entries []struct {
		Text  string  `xml:",chardata"`
		Start float64 `xml:"start,attr"`
		Dur   float32 `xml:"dur,attr"`
	} `xml:"text"`
}

// Text joins the entries with single spaces, in order.
func (t *Transcript) Text() string {
	b := strings.Builder{}
	for _, entry := range t.Entries {
		txt := strings.Join(strings.Fields(html.UnescapeString(entry.Text)), " ")
		if txt == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(txt)
	}
	return b.String()
}

type TranscriptType int

const (
	TypeNone TranscriptType = iota
	TypeAuto
	TypeManual
)

func (t TranscriptType) String() string {
	switch t {
	case TypeAuto:
		return "auto"
	case TypeManual:
		return "manual"
	default:
		return "none"
	}
}

// Captions scrapes the watch page for caption tracks and downloads the best one in langs.
func (c *Client) Captions(ctx context.Context, videoId string, langs []string) (*Transcript, TranscriptType, error) {
	content, err := c.getRetry(ctx, c.watchPage(videoId))
	if err != nil {
		return nil, TypeNone, fmt.Errorf("requesting watch page: %w", err)
	}
	sContent := string(content)

	if strings.Contains(sContent, `action="https://consent.youtube.com/s"`) {
		return nil, TypeNone, fmt.Errorf("got consent form: %w", ErrNoCaptions)
	}

	split := strings.Split(sContent, `"captions":`)
	if len(split) <= 1 {
		if strings.Contains(sContent, `class="g-recaptcha"`) {
			return nil, TypeNone, fmt.Errorf("video %q got captcha: %w", videoId, ErrToManyRequests)
		}

		if strings.Contains(sContent, `"playabilityStatus":{"status":"ERROR"`) {
			return nil, TypeNone, fmt.Errorf("video %q not playable: %w", videoId, ErrUnavailable)
		}

		return nil, TypeNone, fmt.Errorf("no captions json: %w", ErrNoCaptions)
	}

	rawCaptions := strings.ReplaceAll(strings.Split(split[1], `,"videoDetails`)[0], "\n", "")
	captionsList := ResCaptionsList{}
	if err := json.Unmarshal([]byte(rawCaptions), &captionsList); err != nil {
		return nil, TypeNone, fmt.Errorf("could not unmarshal caption results: %w", err)
	}

	track, trackType := bestTrack(captionsList.PlayerCaptionsTrackListRenderer.CaptionTracks, langs)
	if trackType == TypeNone {
		return nil, TypeNone, ErrNoCaptions
	}

	body, err := c.getRetry(ctx, track.BaseUrl)
	if err != nil {
		return nil, TypeNone, fmt.Errorf("captions request: %w", err)
	}

	transcript := Transcript{}
	if err := xml.Unmarshal(body, &transcript); err != nil {
		return nil, TypeNone, fmt.Errorf("could not parse transcript xml: %w", err)
	}

	if len(transcript.Entries) == 0 {
		return nil, TypeNone, fmt.Errorf("empty caption track: %w", ErrNoCaptions)
	}

	return &transcript, trackType, nil
}

// bestTrack walks langs in order, preferring a manual track in any of them,
// then an automatic track in any of them. Tracks in other languages are not used.
func bestTrack(tracks []ResTrack, langs []string) (*ResTrack, TranscriptType) {
	for _, lang := range langs {
		for i, t := range tracks {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return &tracks[i], TypeManual
			}
		}
	}

	for _, lang := range langs {
		for i, t := range tracks {
			if t.LanguageCode == lang {
				return &tracks[i], TypeAuto
			}
		}
	}

	return nil, TypeNone
}
