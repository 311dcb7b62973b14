package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

// Sender delivers one envelope under a routing key.
type Sender interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqSender struct {
	conn     *amqp091.Connection
	exchange string
}

// NewRabbitSender declares the topic exchange and returns a Sender that
// opens a confirm-mode channel per publish.
func NewRabbitSender(ctx context.Context, opts ConnectionOptions, exchange string) (Sender, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("rabbitmq: %w", models.ErrNotConfigured)
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := DialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error opening channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error declaring exchange %s: %w", exchange, err)
	}
	return &rmqSender{conn: conn, exchange: exchange}, nil
}

func (r *rmqSender) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.Meta.ID,
			Type:         msg.Meta.Type,
			Timestamp:    msg.Meta.Time,
			AppId:        msg.Meta.Producer,
			Body:         body,
		},
	)
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", key)
	}
	return nil
}

func (r *rmqSender) Close() error {
	return r.conn.Close()
}

// Publisher mirrors lifecycle transitions onto the event bus. Failures are
// logged and dropped.
type Publisher struct {
	sender  Sender
	timeout time.Duration
}

var _ models.TransitionHook = (*Publisher)(nil)

func NewPublisher(sender Sender, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{sender: sender, timeout: timeout}
}

func (p *Publisher) OnTransition(ctx context.Context, prospect *models.Prospect, t models.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	env := NewTransitionEnvelope(prospect, t)
	if err := p.sender.Publish(ctx, env.Meta.Type, env); err != nil {
		utils.LogWarning("Falha ao publicar evento %s do prospect %s: %v", env.Meta.Type, t.ProspectID, err)
		return
	}
	utils.LogDebug("Evento publicado: %s (%s)", env.Meta.Type, t.ProspectID)
}

func (p *Publisher) Close() error {
	return p.sender.Close()
}
