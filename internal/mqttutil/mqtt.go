// Package mqttutil wraps eclipse/paho.mqtt.golang for the daemon's sensor
// ingestion and event republishing: broker URI construction,
// keep-alive/timeout config, and retry backoff.
package mqttutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/config"
	"github.com/dogwalking/workout-engine/internal/engine"
	"github.com/dogwalking/workout-engine/internal/models"
	"github.com/dogwalking/workout-engine/internal/services"
)

// Topic layout: sensor readings arrive per-session, per-sensor;
// engine events are republished to a single per-session topic.
const (
	topicSensorLocation = "sessions/%s/sensors/location"
	topicSensorStep     = "sessions/%s/sensors/step"
	topicSensorAccel    = "sessions/%s/sensors/accel"
	topicSessionEvents  = "sessions/%s/events"
	topicSensorWildcard = "sessions/+/sensors/+"

	qosLevel             = 1
	maxRetryAttempts     = 3
	retryBackoffInterval = 5 * time.Second
)

// Client wires a paho MQTT connection to a services.Manager: inbound sensor
// topics feed the manager, and a session's EventBus is republished outbound
// once a session starts.
type Client struct {
	conn    mqtt.Client
	manager *services.Manager
	logger  *zap.Logger
}

// NewClient connects to the broker described by cfg and subscribes to the
// sensor wildcard topic. Connection loss triggers paho's own automatic
// reconnect; ConnectionTimeout and KeepAlive are taken directly from cfg.
func NewClient(cfg config.MQTTConfig, manager *services.Manager, logger *zap.Logger) (*Client, error) {
	scheme := "tcp"
	if cfg.TLSEnabled {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("workout-engine-" + uuid.NewString()).
		SetConnectTimeout(cfg.ConnectionTimeout).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(retryBackoffInterval).
		SetOrderMatters(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := &Client{manager: manager, logger: logger}
	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", broker))
		if token := cl.Subscribe(topicSensorWildcard, qosLevel, c.handleMessage); token.Wait() && token.Error() != nil {
			logger.Error("mqtt subscribe failed", zap.Error(token.Error()))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	c.conn = mqtt.NewClient(opts)

	var lastErr error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		token := c.conn.Connect()
		if token.Wait() && token.Error() == nil {
			return c, nil
		}
		lastErr = token.Error()
		logger.Warn("mqtt connect attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		time.Sleep(retryBackoffInterval)
	}
	return nil, fmt.Errorf("connecting to mqtt broker after %d attempts: %w", maxRetryAttempts, lastErr)
}

// handleMessage decodes an inbound sensor payload by topic suffix and
// forwards it to the named session's manager entry point.
func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 4 || parts[0] != "sessions" || parts[2] != "sensors" {
		return
	}
	sessionID := parts[1]
	sensorKind := parts[3]
	nowMs := time.Now().UnixMilli()
	ctx := context.Background()

	switch sensorKind {
	case "location":
		var fix models.LocationFix
		if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
			c.logger.Warn("invalid location payload", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if err := c.manager.OnLocation(ctx, sessionID, fix, nowMs); err != nil {
			c.logger.Debug("location dispatch failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	case "step":
		var reading models.StepReading
		if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
			c.logger.Warn("invalid step payload", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if err := c.manager.OnStepReading(ctx, sessionID, reading, nowMs); err != nil {
			c.logger.Debug("step dispatch failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	case "accel":
		var sample models.AccelSample
		if err := json.Unmarshal(msg.Payload(), &sample); err != nil {
			c.logger.Warn("invalid accel payload", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if err := c.manager.OnAccelSample(sessionID, sample, nowMs); err != nil {
			c.logger.Debug("accel dispatch failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// RepublishEvents subscribes to the named session's EventBus and publishes
// every event to its events topic until unsubscribe is called or ctx is
// cancelled. Intended to run as its own goroutine per session, started
// alongside the HTTP handler's session creation.
func (c *Client) RepublishEvents(ctx context.Context, sessionID string) {
	ch, unsubscribe, ok := c.manager.Subscribe(sessionID)
	if !ok {
		return
	}
	defer unsubscribe()
	topic := fmt.Sprintf(topicSessionEvents, sessionID)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				c.logger.Warn("event marshal failed", zap.String("session_id", sessionID), zap.Error(err))
				continue
			}
			token := c.conn.Publish(topic, qosLevel, false, payload)
			if token.Wait() && token.Error() != nil {
				c.logger.Warn("event publish failed", zap.String("session_id", sessionID), zap.Error(token.Error()))
			}
			if evt.Type == engine.EventSessionEnded {
				return
			}
		}
	}
}

// Disconnect closes the broker connection, waiting up to quiesceMs for
// in-flight publishes to drain.
func (c *Client) Disconnect(quiesceMs uint) {
	c.conn.Disconnect(quiesceMs)
}
