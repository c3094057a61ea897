// Package notify pushes import progress to an MQTT broker so clients can follow a job without polling.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/store"
)

type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// PublishTimeout bounds each publish when ctx has no earlier deadline (default 5s).
	PublishTimeout time.Duration
	// ConnectTimeout bounds the first connection attempt (default 10s).
	ConnectTimeout time.Duration
}

// publisher is the part of paho.Client the publisher uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// ProgressEvent is the message body. It mirrors the status endpoint plus a timestamp.
type ProgressEvent struct {
	UserID          string             `json:"user_id"`
	JobID           string             `json:"job_id"`
	Status          store.ImportStatus `json:"import_status"`
	Stage           string             `json:"import_stage"`
	ProgressPercent int                `json:"progress_percent"`
	Error           string             `json:"import_error,omitempty"`
	At              time.Time          `json:"at"`
}

func eventFor(job store.ImportJob) ProgressEvent {
	at := job.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return ProgressEvent{
		UserID:          job.UserID,
		JobID:           job.ID,
		Status:          job.Status,
		Stage:           job.Stage,
		ProgressPercent: job.ProgressPercent,
		Error:           job.Error,
		At:              at,
	}
}

// MQTTPublisher publishes one retained message per status update, so a late subscriber sees the
// latest state immediately.
type MQTTPublisher struct {
	cfg    Config
	client publisher
	logger *zap.Logger
}

// Connect dials the broker once and fails if it cannot be reached within ConnectTimeout or
// before ctx is done. Once connected, lost connections are retried in the background.
// The connection is closed when ctx is done.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*MQTTPublisher, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, errors.New("notify.Connect: broker url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "soulprint-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("mqtt connection lost", zap.Error(err))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("notify.Connect: %s: %w", cfg.BrokerURL, err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, fmt.Errorf("notify.Connect: %s: %w", cfg.BrokerURL, ctx.Err())
	case <-timer.C:
		client.Disconnect(0)
		return nil, fmt.Errorf("notify.Connect: %s: no connection after %s", cfg.BrokerURL, cfg.ConnectTimeout)
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()

	return newPublisher(cfg, client, logger), nil
}

func newPublisher(cfg Config, client publisher, logger *zap.Logger) *MQTTPublisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "soulprint"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTPublisher{cfg: cfg, client: client, logger: logger}
}

// PublishProgress sends the job's current state. Callers treat the error as non-fatal.
func (p *MQTTPublisher) PublishProgress(ctx context.Context, job store.ImportJob) error {
	if job.UserID == "" {
		return errors.New("MQTTPublisher.PublishProgress: user id is required")
	}
	body, err := json.Marshal(eventFor(job))
	if err != nil {
		return fmt.Errorf("MQTTPublisher.PublishProgress: %w", err)
	}

	topic := TopicImportProgress(p.cfg.TopicPrefix, job.UserID)
	token := p.client.Publish(topic, 1, true, body)

	wait := p.cfg.PublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < wait {
			wait = d
		}
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("MQTTPublisher.PublishProgress: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTTPublisher.PublishProgress: %w", err)
	}
	p.logger.Debug("import progress published",
		zap.String("topic", topic),
		zap.Int("progress_percent", job.ProgressPercent))
	return nil
}
