package transcribe

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"captiongen/config"
	"captiongen/pipeline"
)

// OpenAITranscriber sends audio to the OpenAI transcription endpoint in a
// single blocking call. No chunking, no retries: the remote model either
// answers or the whole stage fails.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

func NewOpenAITranscriber(cfg config.OpenAIConfig, logger *slog.Logger) *OpenAITranscriber {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAITranscriber{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		language: cfg.Language,
		logger:   logger,
	}
}

// Transcribe uploads the audio file and returns the raw response body as a
// string, whatever the requested format. For "srt" and "text" the API
// already answers with plain text, so no coercion is needed beyond that.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath string, format Format) (string, error) {
	req := openai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
		Format:   apiFormat(format),
		Language: t.language,
	}

	t.logger.Info("transcribing audio", "audio", audioPath, "format", format, "model", t.model)
	resp, err := t.client.CreateTranscription(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			if apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden {
				return "", errors.Wrapf(pipeline.ErrAuth, "transcription rejected: %v", err)
			}
		}
		return "", errors.Wrapf(pipeline.ErrNetwork, "transcription: %v", err)
	}

	t.logger.Info("transcription complete", "audio", audioPath, "chars", len(resp.Text))
	return resp.Text, nil
}

func apiFormat(f Format) openai.AudioResponseFormat {
	if f == FormatSRT {
		return openai.AudioResponseFormatSRT
	}
	return openai.AudioResponseFormatText
}
