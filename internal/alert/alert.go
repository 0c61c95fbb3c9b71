// Package alert delivers composed advisories to farmers.
package alert

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
)

// Dispatcher sends one advisory over every configured channel.
type Dispatcher interface {
	Send(ctx context.Context, msg models.AdvisoryMessage) error
}

// ConsoleNotice prefixes console output when no messaging provider is configured.
const ConsoleNotice = "[ALERT] Twilio not configured. Printing instead:\n"

// Console prints advisories instead of sending them.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Send(ctx context.Context, msg models.AdvisoryMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "%s%s\n", ConsoleNotice, msg.Text); err != nil {
		observability.AlertsSentTotal.WithLabelValues("console", "error").Inc()
		return fmt.Errorf("print alert: %w", err)
	}
	observability.AlertsSentTotal.WithLabelValues("console", "sent").Inc()
	return nil
}
