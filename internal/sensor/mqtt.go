package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kjstillabower/field-advisory/internal/models"
)

// ErrNoReading is returned when no message arrives on the topic within the wait.
var ErrNoReading = errors.New("no sensor reading received")

var validate = validator.New()

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Wait     time.Duration
}

// MQTTSource reads the latest reading published on a topic. Field gateways
// are expected to publish with the retained flag so a fresh subscriber
// receives the last value immediately.
type MQTTSource struct {
	cfg       MQTTConfig
	logger    *zap.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTSource(cfg MQTTConfig, logger *zap.Logger) *MQTTSource {
	if cfg.Wait <= 0 {
		cfg.Wait = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSource{cfg: cfg, logger: logger, newClient: mqtt.NewClient}
}

// Read connects, subscribes, waits for the first valid message, then disconnects.
func (s *MQTTSource) Read(ctx context.Context) (models.SensorSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Wait)
	defer cancel()

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(s.cfg.Wait)
	c := s.newClient(opts)

	if err := waitToken(ctx, c.Connect()); err != nil {
		return models.SensorSnapshot{}, fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}
	defer c.Disconnect(250)

	readings := make(chan models.SensorSnapshot, 1)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		snap, err := decodeReading(msg.Payload())
		if err != nil {
			s.logger.Warn("discarding sensor message", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		select {
		case readings <- snap:
		default:
		}
	}
	if err := waitToken(ctx, c.Subscribe(s.cfg.Topic, 1, handler)); err != nil {
		return models.SensorSnapshot{}, fmt.Errorf("mqtt subscribe %s: %w", s.cfg.Topic, err)
	}
	defer c.Unsubscribe(s.cfg.Topic)

	select {
	case snap := <-readings:
		return snap, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.SensorSnapshot{}, fmt.Errorf("%w on %s within %s", ErrNoReading, s.cfg.Topic, s.cfg.Wait)
		}
		return models.SensorSnapshot{}, ctx.Err()
	}
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeReading parses and range-checks a JSON reading.
func decodeReading(payload []byte) (models.SensorSnapshot, error) {
	var snap models.SensorSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return models.SensorSnapshot{}, fmt.Errorf("decode reading: %w", err)
	}
	if err := validate.Struct(snap); err != nil {
		return models.SensorSnapshot{}, fmt.Errorf("invalid reading: %w", err)
	}
	return snap, nil
}
