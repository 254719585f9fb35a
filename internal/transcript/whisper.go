package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Whisper transcribes through the OpenAI audio API.
type Whisper struct {
	Client  *openai.Client
	Model   string
	Timeout time.Duration
}

func NewWhisper(apiKey, model string, timeout time.Duration) *Whisper {
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{
		Client:  openai.NewClient(apiKey),
		Model:   model,
		Timeout: timeout,
	}
}

func (w *Whisper) Transcribe(ctx context.Context, path string) (string, error) {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	res, err := w.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription of %s: %w", path, err)
	}

	return res.Text, nil
}
