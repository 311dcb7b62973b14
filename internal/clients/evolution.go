package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

type EvolutionConfig struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
	// TypingDelay is how long the API shows "composing" before each bubble.
	TypingDelay time.Duration
	ChunkSize   int
	ChunkPause  time.Duration
	Retry       utils.RetryPolicy
}

// EvolutionClient implements models.MessagingGateway on the Evolution API.
type EvolutionClient struct {
	rest       restClient
	instance   string
	typing     time.Duration
	chunkSize  int
	chunkPause time.Duration
}

var _ models.MessagingGateway = (*EvolutionClient)(nil)

func NewEvolutionClient(cfg EvolutionConfig) (*EvolutionClient, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Instance == "" {
		return nil, fmt.Errorf("evolution: %w", models.ErrNotConfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.TypingDelay <= 0 {
		cfg.TypingDelay = 1200 * time.Millisecond
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = utils.DefaultChunkSize
	}
	if cfg.ChunkPause < 0 {
		cfg.ChunkPause = 0
	}
	key := cfg.APIKey
	return &EvolutionClient{
		rest: newRestClient("evolution", cfg.BaseURL, cfg.Timeout, cfg.Retry, func(req *http.Request, _ url.Values) {
			req.Header.Set("apikey", key)
		}),
		instance:   cfg.Instance,
		typing:     cfg.TypingDelay,
		chunkSize:  cfg.ChunkSize,
		chunkPause: cfg.ChunkPause,
	}, nil
}

type evolutionSendOptions struct {
	Delay       int64  `json:"delay"`
	Presence    string `json:"presence"`
	LinkPreview bool   `json:"linkPreview"`
}

type evolutionTextMessage struct {
	Text string `json:"text"`
}

type evolutionSendRequest struct {
	Number      string               `json:"number"`
	Options     evolutionSendOptions `json:"options"`
	TextMessage evolutionTextMessage `json:"textMessage"`
}

type evolutionSendResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	Status string `json:"status"`
}

type evolutionNumber struct {
	Number string `json:"number"`
	Exists bool   `json:"exists"`
	JID    string `json:"jid"`
}

func (c *EvolutionClient) SendText(ctx context.Context, phone, text string) (string, error) {
	number := utils.NormalizePhone(phone)
	if number == "" {
		return "", fmt.Errorf("evolution: empty phone")
	}
	req := evolutionSendRequest{
		Number: number,
		Options: evolutionSendOptions{
			Delay:       c.typing.Milliseconds(),
			Presence:    "composing",
			LinkPreview: false,
		},
		TextMessage: evolutionTextMessage{Text: text},
	}

	var out evolutionSendResponse
	if err := c.rest.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(c.instance), nil, req, &out); err != nil {
		return "", fmt.Errorf("error sending message to %s: %w", number, err)
	}
	return out.Key.ID, nil
}

// SendTextPaced sends text as bubbles of at most ChunkSize runes, pausing
// ChunkPause between them. The first failure stops the sequence.
func (c *EvolutionClient) SendTextPaced(ctx context.Context, phone, text string) ([]models.SendResult, error) {
	chunks := utils.SplitText(text, c.chunkSize)
	results := make([]models.SendResult, 0, len(chunks))
	for i, chunk := range chunks {
		if i > 0 && c.chunkPause > 0 {
			timer := time.NewTimer(c.chunkPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				results = append(results, models.SendResult{Chunk: chunk, Error: ctx.Err().Error()})
				return results, ctx.Err()
			case <-timer.C:
			}
		}

		id, err := c.SendText(ctx, phone, chunk)
		if err != nil {
			results = append(results, models.SendResult{Chunk: chunk, Error: err.Error()})
			return results, err
		}
		results = append(results, models.SendResult{Chunk: chunk, MessageID: id})
	}
	return results, nil
}

func (c *EvolutionClient) NumberIsReachable(ctx context.Context, phone string) (bool, error) {
	number := utils.NormalizePhone(phone)
	body := map[string][]string{"numbers": {number}}

	var out []evolutionNumber
	if err := c.rest.do(ctx, http.MethodPost, "/chat/whatsappNumbers/"+url.PathEscape(c.instance), nil, body, &out); err != nil {
		return false, fmt.Errorf("error checking number %s: %w", number, err)
	}
	if len(out) == 0 {
		return false, nil
	}
	return out[0].Exists, nil
}
