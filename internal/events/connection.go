package events

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"outreach-agent/internal/utils"
)

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	MaxDelay      time.Duration
}

// DialWithRetry connects to RabbitMQ with a capped exponential backoff and
// gives up early when ctx is done.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp091.Connection, error) {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}

	var lastErr error
	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				utils.LogInfo("RabbitMQ conectado na tentativa %d", i)
			}
			return conn, nil
		}
		lastErr = err
		if i == cfg.RetryAttempts {
			break
		}

		sleep := cfg.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > cfg.MaxDelay {
			sleep = cfg.MaxDelay
		}
		utils.LogWarning("Falha ao conectar no RabbitMQ (tentativa %d), nova tentativa em %s: %v", i, sleep, err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", cfg.RetryAttempts, lastErr)
}
