package alert

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/field-advisory/internal/client"
	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
)

// AudioCaption is the body of the WhatsApp message that carries the audio file.
const AudioCaption = "Audio advisory:"

const (
	channelWhatsApp = "whatsapp"
	channelSMS      = "sms"
)

// TwilioConfig holds the account and the sender/recipient pairs. A channel
// is used only when both its sender and recipient are set.
type TwilioConfig struct {
	BaseURL      string
	AccountSID   string
	AuthToken    string
	FromWhatsApp string
	ToWhatsApp   string
	FromSMS      string
	ToSMS        string
	// AudioBaseURL is where the synthesized audio file is publicly served.
	// Without it the audio message is skipped.
	AudioBaseURL string
}

// Twilio sends WhatsApp and SMS messages through the Twilio REST API.
type Twilio struct {
	caller *client.Caller
	cfg    TwilioConfig
	logger *zap.Logger
}

func NewTwilio(caller *client.Caller, cfg TwilioConfig, logger *zap.Logger) *Twilio {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AudioBaseURL = strings.TrimRight(cfg.AudioBaseURL, "/")
	return &Twilio{caller: caller, cfg: cfg, logger: logger}
}

// Send delivers the advisory on both channels concurrently. The first
// channel error cancels the other and is returned.
func (t *Twilio) Send(ctx context.Context, msg models.AdvisoryMessage) error {
	g, ctx := errgroup.WithContext(ctx)

	if t.cfg.FromWhatsApp != "" && t.cfg.ToWhatsApp != "" {
		g.Go(func() error {
			if err := t.deliver(ctx, channelWhatsApp, t.cfg.FromWhatsApp, t.cfg.ToWhatsApp, msg.Text, ""); err != nil {
				return err
			}
			media := t.mediaURL(msg.AudioPath)
			if media == "" {
				if msg.AudioPath != "" {
					t.logger.Debug("audio not attached, no public base URL", zap.String("audio_path", msg.AudioPath))
				}
				return nil
			}
			return t.deliver(ctx, channelWhatsApp, t.cfg.FromWhatsApp, t.cfg.ToWhatsApp, AudioCaption, media)
		})
	}
	if t.cfg.FromSMS != "" && t.cfg.ToSMS != "" {
		g.Go(func() error {
			return t.deliver(ctx, channelSMS, t.cfg.FromSMS, t.cfg.ToSMS, msg.Text, "")
		})
	}
	return g.Wait()
}

func (t *Twilio) mediaURL(audioPath string) string {
	if audioPath == "" || t.cfg.AudioBaseURL == "" {
		return ""
	}
	return t.cfg.AudioBaseURL + "/" + url.PathEscape(filepath.Base(audioPath))
}

func (t *Twilio) deliver(ctx context.Context, channel, from, to, body, mediaURL string) error {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}
	encoded := form.Encode()
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.cfg.BaseURL, url.PathEscape(t.cfg.AccountSID))

	_, err := t.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		observability.AlertsSentTotal.WithLabelValues(channel, "error").Inc()
		return fmt.Errorf("send %s: %w", channel, err)
	}
	observability.AlertsSentTotal.WithLabelValues(channel, "sent").Inc()
	t.logger.Info("alert sent", zap.String("channel", channel), zap.Bool("media", mediaURL != ""))
	return nil
}
