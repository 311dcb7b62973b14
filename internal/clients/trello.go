package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

const DefaultTrelloURL = "https://api.trello.com/1"

type TrelloConfig struct {
	BaseURL string
	APIKey  string
	Token   string
	BoardID string
	Timeout time.Duration
	Retry   utils.RetryPolicy
}

// TrelloClient implements models.TaskBoard. Authentication travels as the
// key and token query parameters.
type TrelloClient struct {
	rest  restClient
	board string
}

var _ models.TaskBoard = (*TrelloClient)(nil)

func NewTrelloClient(cfg TrelloConfig) (*TrelloClient, error) {
	if cfg.APIKey == "" || cfg.Token == "" || cfg.BoardID == "" {
		return nil, fmt.Errorf("trello: %w", models.ErrNotConfigured)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTrelloURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	key, token := cfg.APIKey, cfg.Token
	return &TrelloClient{
		rest: newRestClient("trello", cfg.BaseURL, cfg.Timeout, cfg.Retry, func(_ *http.Request, q url.Values) {
			q.Set("key", key)
			q.Set("token", token)
		}),
		board: cfg.BoardID,
	}, nil
}

func (c *TrelloClient) CreateCard(ctx context.Context, listID, name, description string) (string, error) {
	q := url.Values{
		"idList": {listID},
		"name":   {name},
		"desc":   {description},
		"pos":    {"top"},
	}
	var card models.Card
	if err := c.rest.do(ctx, http.MethodPost, "/cards", q, nil, &card); err != nil {
		return "", fmt.Errorf("error creating trello card: %w", err)
	}
	utils.LogDebug("Card criado no Trello: %s (%s)", card.ID, name)
	return card.ID, nil
}

func (c *TrelloClient) MoveCard(ctx context.Context, cardID, listID string) error {
	q := url.Values{"idList": {listID}}
	if err := c.rest.do(ctx, http.MethodPut, "/cards/"+url.PathEscape(cardID), q, nil, nil); err != nil {
		return fmt.Errorf("error moving trello card %s: %w", cardID, err)
	}
	return nil
}

func (c *TrelloClient) AddComment(ctx context.Context, cardID, text string) error {
	q := url.Values{"text": {text}}
	if err := c.rest.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(cardID)+"/actions/comments", q, nil, nil); err != nil {
		return fmt.Errorf("error commenting on trello card %s: %w", cardID, err)
	}
	return nil
}

// FindCardMatchingText searches the configured board for a card whose name
// or description contains text. It returns nil when nothing matches.
func (c *TrelloClient) FindCardMatchingText(ctx context.Context, text string) (*models.Card, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	q := url.Values{
		"query":       {fmt.Sprintf("board:%s %q", c.board, text)},
		"modelTypes":  {"cards"},
		"card_fields": {"id,name,desc,idList,shortUrl"},
		"cards_limit": {"1"},
	}
	var out struct {
		Cards []models.Card `json:"cards"`
	}
	if err := c.rest.do(ctx, http.MethodGet, "/search", q, nil, &out); err != nil {
		return nil, fmt.Errorf("error searching trello cards: %w", err)
	}
	if len(out.Cards) == 0 {
		return nil, nil
	}
	return &out.Cards[0], nil
}
