package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

// DefaultDeclineKeywords are matched against what the contact wrote in the
// conversation system.
var DefaultDeclineKeywords = []string{
	"não tenho interesse",
	"não quero",
	"para de mandar",
	"remova meu número",
	"não me ligue",
}

type ChatwootConfig struct {
	BaseURL         string
	Token           string
	AccountID       string
	Timeout         time.Duration
	HistoryLimit    int
	DeclineKeywords []string
	Retry           utils.RetryPolicy
}

// ChatwootClient implements models.EngagementChecker against the Chatwoot
// application API.
type ChatwootClient struct {
	rest     restClient
	account  string
	limit    int
	keywords []string
}

var _ models.EngagementChecker = (*ChatwootClient)(nil)

func NewChatwootClient(cfg ChatwootConfig) (*ChatwootClient, error) {
	if cfg.BaseURL == "" || cfg.Token == "" || cfg.AccountID == "" {
		return nil, fmt.Errorf("chatwoot: %w", models.ErrNotConfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if len(cfg.DeclineKeywords) == 0 {
		cfg.DeclineKeywords = DefaultDeclineKeywords
	}
	token := cfg.Token
	return &ChatwootClient{
		rest: newRestClient("chatwoot", cfg.BaseURL, cfg.Timeout, cfg.Retry, func(req *http.Request, _ url.Values) {
			req.Header.Set("api_access_token", token)
		}),
		account:  cfg.AccountID,
		limit:    cfg.HistoryLimit,
		keywords: cfg.DeclineKeywords,
	}, nil
}

type chatwootPayload[T any] struct {
	Payload []T `json:"payload"`
}

type chatwootContact struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone_number"`
}

type chatwootConversation struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type chatwootMessage struct {
	Content    string `json:"content"`
	SenderType string `json:"sender_type"`
	CreatedAt  int64  `json:"created_at"`
}

func (c *ChatwootClient) accountPath(format string, args ...interface{}) string {
	return "/api/v1/accounts/" + url.PathEscape(c.account) + fmt.Sprintf(format, args...)
}

// FindByPhone searches contacts by the E.164 form of phone and returns the
// first match.
func (c *ChatwootClient) FindByPhone(ctx context.Context, phone string) (string, error) {
	query := utils.NormalizePhone(phone)
	if query == "" {
		return "", fmt.Errorf("chatwoot: empty phone")
	}

	var out chatwootPayload[chatwootContact]
	err := c.rest.do(ctx, http.MethodGet, c.accountPath("/contacts/search"), url.Values{"q": {"+" + query}}, nil, &out)
	if err != nil {
		return "", fmt.Errorf("error searching chatwoot contact: %w", err)
	}
	if len(out.Payload) == 0 {
		return "", nil
	}
	return strconv.FormatInt(out.Payload[0].ID, 10), nil
}

// RecentMessages merges the messages of every conversation of the contact
// and keeps the most recent ones.
func (c *ChatwootClient) RecentMessages(ctx context.Context, contactID string) ([]models.ExternalMessage, error) {
	var convs chatwootPayload[chatwootConversation]
	err := c.rest.do(ctx, http.MethodGet, c.accountPath("/contacts/%s/conversations", url.PathEscape(contactID)), nil, nil, &convs)
	if err != nil {
		return nil, fmt.Errorf("error listing chatwoot conversations: %w", err)
	}

	var messages []models.ExternalMessage
	for _, conv := range convs.Payload {
		var msgs chatwootPayload[chatwootMessage]
		err := c.rest.do(ctx, http.MethodGet, c.accountPath("/conversations/%d/messages", conv.ID), nil, nil, &msgs)
		if err != nil {
			return nil, fmt.Errorf("error listing chatwoot messages of conversation %d: %w", conv.ID, err)
		}
		for _, m := range msgs.Payload {
			role := models.SenderRoleAgent
			if strings.EqualFold(m.SenderType, "Contact") {
				role = models.SenderRoleContact
			}
			messages = append(messages, models.ExternalMessage{
				Content:    m.Content,
				SenderRole: role,
				CreatedAt:  time.Unix(m.CreatedAt, 0).UTC(),
			})
		}
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	if len(messages) > c.limit {
		messages = messages[:c.limit]
	}
	return messages, nil
}

// HasDeclineSignal looks for a decline keyword in what the contact wrote.
// Errors are returned, never read as "no signal".
func (c *ChatwootClient) HasDeclineSignal(ctx context.Context, contactID string) (bool, error) {
	messages, err := c.RecentMessages(ctx, contactID)
	if err != nil {
		return false, err
	}
	for _, m := range messages {
		if m.SenderRole != models.SenderRoleContact {
			continue
		}
		if utils.ContainsAnyKeyword(m.Content, c.keywords) {
			utils.LogDebug("Sinal de recusa no Chatwoot para o contato %s", contactID)
			return true, nil
		}
	}
	return false, nil
}
