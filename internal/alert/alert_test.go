package alert

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/field-advisory/internal/client"
	"github.com/kjstillabower/field-advisory/internal/models"
)

type sentMessage struct {
	From, To, Body, MediaURL string
}

// twilioRecorder is a fake Messages endpoint that records every form it receives.
type twilioRecorder struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo string
}

func (rec *twilioRecorder) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())

		m := sentMessage{From: r.PostForm.Get("From"), To: r.PostForm.Get("To"), Body: r.PostForm.Get("Body"), MediaURL: r.PostForm.Get("MediaUrl")}
		if m.To == rec.failTo {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
			return
		}
		rec.mu.Lock()
		rec.sent = append(rec.sent, m)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	})
}

func (rec *twilioRecorder) messages() []sentMessage {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := append([]sentMessage(nil), rec.sent...)
	sort.Slice(out, func(i, j int) bool { return out[i].To+out[i].Body < out[j].To+out[j].Body })
	return out
}

func newTwilio(baseURL, audioBase string) *Twilio {
	caller := client.NewCaller(client.Options{Provider: "twilio", Timeout: 2 * time.Second, RetryAttempts: 1})
	return NewTwilio(caller, TwilioConfig{
		BaseURL:      baseURL + "/2010-04-01/",
		AccountSID:   "AC123",
		AuthToken:    "secret",
		FromWhatsApp: "whatsapp:+14155238886",
		ToWhatsApp:   "whatsapp:+919800000000",
		FromSMS:      "+15005550006",
		ToSMS:        "+919800000000",
		AudioBaseURL: audioBase,
	}, nil)
}

func TestTwilio_Send_WhatsAppAudioAndSMS(t *testing.T) {
	rec := &twilioRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	err := newTwilio(server.URL, "https://files.example.org/advisories/").Send(context.Background(),
		models.AdvisoryMessage{Text: "hello farmer", AudioPath: "/var/run/advice.mp3"})
	require.NoError(t, err)

	assert.Equal(t, []sentMessage{
		{From: "+15005550006", To: "+919800000000", Body: "hello farmer"},
		{From: "whatsapp:+14155238886", To: "whatsapp:+919800000000", Body: AudioCaption, MediaURL: "https://files.example.org/advisories/advice.mp3"},
		{From: "whatsapp:+14155238886", To: "whatsapp:+919800000000", Body: "hello farmer"},
	}, rec.messages())
}

// TestTwilio_Send_NoAudioWithoutBaseURL verifies the audio message is skipped when the file has no public URL.
func TestTwilio_Send_NoAudioWithoutBaseURL(t *testing.T) {
	rec := &twilioRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	err := newTwilio(server.URL, "").Send(context.Background(), models.AdvisoryMessage{Text: "hi", AudioPath: "advice.mp3"})
	require.NoError(t, err)

	for _, m := range rec.messages() {
		assert.Empty(t, m.MediaURL)
		assert.NotEqual(t, AudioCaption, m.Body)
	}
	assert.Len(t, rec.messages(), 2)
}

func TestTwilio_Send_SkipsChannelWithoutRecipient(t *testing.T) {
	rec := &twilioRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	tw := newTwilio(server.URL, "")
	tw.cfg.ToSMS = ""
	require.NoError(t, tw.Send(context.Background(), models.AdvisoryMessage{Text: "hi"}))

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "whatsapp:+919800000000", msgs[0].To)
}

func TestTwilio_Send_ChannelErrorIsReturned(t *testing.T) {
	rec := &twilioRecorder{failTo: "+919800000000"}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	err := newTwilio(server.URL, "").Send(context.Background(), models.AdvisoryMessage{Text: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRejected)
	assert.Contains(t, err.Error(), "send sms")
}

func TestConsole_Send(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	require.NoError(t, c.Send(context.Background(), models.AdvisoryMessage{Text: "🌾 Kondapalli — Weather Advisory\nRisk Level: 0 (low)\n- ok"}))
	assert.Equal(t, "[ALERT] Twilio not configured. Printing instead:\n🌾 Kondapalli — Weather Advisory\nRisk Level: 0 (low)\n- ok\n", buf.String())
}
