package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
)

// MQTTChannel publishes alerts and digests as JSON payloads to a broker
// topic, for home-automation consumers.
type MQTTChannel struct {
	name       string
	enabled    bool
	realtime   bool
	digest     bool
	digestTime conf.Clock
	broker     string
	topic      string
	username   string
	password   string
	client     mqtt.Client
}

// NewMQTTChannel builds the channel from its configuration entry.
func NewMQTTChannel(cs *conf.ChannelSettings) *MQTTChannel {
	ch := &MQTTChannel{
		name:     cs.Name,
		enabled:  cs.Enabled,
		realtime: cs.Realtime,
		digest:   cs.Digest,
		broker:   cs.Broker,
		topic:    cs.Topic,
		username: cs.Username,
		password: cs.Password,
	}
	if cs.Digest {
		ch.digestTime, _ = conf.ParseClock(cs.DigestTime)
	}
	return ch
}

func (ch *MQTTChannel) Name() string           { return ch.name }
func (ch *MQTTChannel) IsEnabled() bool        { return ch.enabled }
func (ch *MQTTChannel) RealtimeEnabled() bool  { return ch.realtime }
func (ch *MQTTChannel) DigestEnabled() bool    { return ch.digest }
func (ch *MQTTChannel) DigestTime() conf.Clock { return ch.digestTime }

// ValidateConfig checks the broker settings. The connection itself is
// lazy so a broker outage at startup does not block the pipeline.
func (ch *MQTTChannel) ValidateConfig() error {
	if !ch.enabled {
		return nil
	}
	if ch.broker == "" || ch.topic == "" {
		return errors.Newf("channel %q: mqtt broker and topic are required", ch.name).
			Category(errors.CategoryConfiguration).
			Component("notification").
			Build()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(ch.broker).
		SetClientID("birdsong-" + ch.name).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)
	if ch.username != "" {
		opts.SetUsername(ch.username)
		opts.SetPassword(ch.password)
	}
	ch.client = mqtt.NewClient(opts)
	return nil
}

func (ch *MQTTChannel) publish(ctx context.Context, subtopic string, payload any) error {
	if ch.client == nil {
		return errors.Newf("channel %q: mqtt client not initialized", ch.name).
			Category(errors.CategoryNotification).
			Component("notification").
			Build()
	}
	if !ch.client.IsConnected() {
		token := ch.client.Connect()
		if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
			return errors.Newf("channel %q: mqtt connect failed: %v", ch.name, token.Error()).
				Category(errors.CategoryNetwork).
				Component("notification").
				Retryable(true).
				Build()
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Newf("channel %q: payload encode failed: %v", ch.name, err).
			Category(errors.CategoryNotification).
			Component("notification").
			Build()
	}

	token := ch.client.Publish(fmt.Sprintf("%s/%s", ch.topic, subtopic), 0, false, data)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if token.Error() != nil {
		return errors.Newf("channel %q: mqtt publish failed: %v", ch.name, token.Error()).
			Category(errors.CategoryNetwork).
			Component("notification").
			Retryable(true).
			Build()
	}
	return nil
}

// SendAlert publishes the event under <topic>/alert.
func (ch *MQTTChannel) SendAlert(ctx context.Context, event *alert.Event) error {
	return ch.publish(ctx, "alert", map[string]any{
		"rule":            event.RuleName,
		"severity":        event.Severity,
		"time":            event.Time.UTC().Format(time.RFC3339),
		"species_id":      event.Detection.SpeciesID,
		"scientific_name": event.Detection.ScientificName,
		"common_name":     event.Detection.CommonName,
		"confidence":      event.Detection.Confidence,
		"recording_path":  event.Detection.RecordingPath,
		"context":         event.Context,
	})
}

// SendSummary publishes the bucket under <topic>/summary.
func (ch *MQTTChannel) SendSummary(ctx context.Context, date string, records []SummaryRecord) error {
	return ch.publish(ctx, "summary", map[string]any{
		"date":    date,
		"count":   len(records),
		"records": records,
	})
}
