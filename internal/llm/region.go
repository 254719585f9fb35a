package llm

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const regionSystem = "You identify where travel and food videos take place. Answer with a place name only."

const regionPrompt = `Read the following video transcript and name the single city or metropolitan area where most of the places visited are located.
Answer with just the name, as it would be typed into a map search (e.g. "Seoul", "Busan", "Jeonju"). No explanation.
If the transcript does not make this clear, answer "none".

Transcript:
---
`

// Transcripts can be hours long, the region is clear long before that.
const regionMaxRunes = 20000

const regionMaxLen = 100

type RegionResolver struct {
	LLM Completer
	Log logrus.FieldLogger
}

// InferRegion returns the dominant city of the transcript, or "" when unknown or on any failure.
func (r *RegionResolver) InferRegion(ctx context.Context, transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return ""
	}

	if utf8.RuneCountInString(transcript) > regionMaxRunes {
		transcript = string([]rune(transcript)[:regionMaxRunes])
	}

	raw, err := r.LLM.Complete(ctx, regionSystem, regionPrompt+transcript+"\n---")
	if err != nil {
		r.Log.WithError(err).Warn("region inference failed, searching unscoped")
		return ""
	}

	region := CleanRegion(raw)
	if region == "" {
		r.Log.WithField("raw", raw).Info("no region in transcript")
		return ""
	}

	r.Log.WithField("region", region).Info("inferred region")
	return region
}

// CleanRegion turns a model answer into a single searchable name, "" if it is not one.
func CleanRegion(raw string) string {
	s := StripFences(raw)
	s = strings.Trim(s, " \t\r\n\"'`*.")
	if s == "" || strings.ContainsAny(s, "\n{}[]") || utf8.RuneCountInString(s) > regionMaxLen {
		return ""
	}

	switch strings.ToLower(s) {
	case "none", "null", "unknown", "n/a", "na", "없음", "알 수 없음":
		return ""
	}

	return s
}
