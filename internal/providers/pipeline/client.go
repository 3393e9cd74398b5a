package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxpilot/internal/domain"
	"voxpilot/internal/ports"
)

const (
	defaultBaseURL = "ws://localhost:8000/ws/voice"
	defaultTimeout = 30 * time.Second
)

var ErrEmptyPayload = errors.New("refusing to submit an empty payload")

// RemoteError is an error reported by the pipeline itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Config controls the pipeline websocket client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements ports.IntentPipeline over one websocket per submission.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger
	newID  func() string
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "pipeline").Logger(),
		newID:  uuid.NewString,
	}
}

type audioHeader struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type serverEvent struct {
	Type    string               `json:"type"`
	Text    string               `json:"text"`
	Message string               `json:"message"`
	Intent  *domain.IntentResult `json:"intent"`
}

// Submit sends the payload and waits for the transcript and intent.
func (c *Client) Submit(ctx context.Context, payload domain.AudioPayload) (ports.PipelineResult, error) {
	if payload.Size() == 0 {
		return ports.PipelineResult{}, ErrEmptyPayload
	}

	wsURL, err := buildSubmitURL(c.cfg.BaseURL)
	if err != nil {
		return ports.PipelineResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	requestID := c.newID()
	log := c.log.With().Str("request_id", requestID).Logger()

	headers := http.Header{}
	if c.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		log.Error().Err(err).Msg("pipeline connect failed")
		return ports.PipelineResult{}, fmt.Errorf("failed to connect to pipeline: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	header := audioHeader{
		Type:        "audio",
		RequestID:   requestID,
		ContentType: payload.ContentType,
		Size:        payload.Size(),
	}
	if err := conn.WriteJSON(header); err != nil {
		log.Error().Err(err).Msg("pipeline submit failed")
		return ports.PipelineResult{}, c.wrapErr(ctx, "failed to send audio header", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload.Data); err != nil {
		log.Error().Err(err).Msg("pipeline submit failed")
		return ports.PipelineResult{}, c.wrapErr(ctx, "failed to send audio", err)
	}

	var result ports.PipelineResult
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Error().Err(err).Msg("pipeline read failed")
			return ports.PipelineResult{}, c.wrapErr(ctx, "failed to read pipeline event", err)
		}

		var event serverEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		switch strings.ToLower(event.Type) {
		case "transcript":
			result.Transcript = strings.TrimSpace(event.Text)
		case "intent":
			if event.Intent == nil {
				return ports.PipelineResult{}, &RemoteError{Message: "pipeline returned no intent"}
			}
			result.Intent = event.Intent
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			log.Debug().Str("action", event.Intent.Action).Msg("intent received")
			return result, nil
		case "error":
			message := strings.TrimSpace(event.Message)
			if message == "" {
				message = "pipeline returned an unknown error"
			}
			return ports.PipelineResult{}, &RemoteError{Message: message}
		}
	}
}

func (c *Client) wrapErr(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", what, ctxErr)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func buildSubmitURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid pipeline URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid pipeline URL scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}
