// Package mqttcm publishes snapshots to an MQTT broker as retained
// messages, so dashboards can subscribe instead of polling.
package mqttcm

// "mqtt connection manager"

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/version"

	"go.ntppool.org/dnsresults/aggregator"
)

const publishTimeout = 10 * time.Second

type Config struct {
	// Broker is the broker URL, e.g. mqtts://mq.example.net:8883/
	Broker   string
	ClientID string
	Username string
	Password string

	Topics *MQTTTopics
}

// Publisher sends every new snapshot to the broker.
type Publisher struct {
	cm     *autopaho.ConnectionManager
	topics *MQTTTopics
	log    *slog.Logger
}

// Setup connects to the broker in the background and returns a Publisher.
// The connection is closed when ctx is cancelled.
func Setup(ctx context.Context, cfg Config) (*Publisher, error) {
	log := logger.FromContext(ctx).WithGroup("mqtt")

	broker, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("mqtt broker: %w", err)
	}
	if cfg.Topics == nil {
		return nil, fmt.Errorf("mqtt topics not configured")
	}

	clientID := cfg.ClientID
	if len(clientID) == 0 {
		clientID = "dnsresults"
	}
	statusChannel := cfg.Topics.Status()

	log.InfoContext(ctx, "mqtt", "broker", broker.Redacted(), "clientID", clientID)

	publishOnlineMessage := func(cm *autopaho.ConnectionManager) {
		msg, err := StatusMessageJSON(true)
		if err != nil {
			log.Warn("mqtt status error", "err", err)
			return
		}
		log.Debug("sending mqtt status message", "topic", statusChannel, "msg", msg)
		expireSeconds := uint32(86400)
		_, err = cm.Publish(ctx, &paho.Publish{
			Topic:   statusChannel,
			Payload: msg,
			QoS:     1,
			Retain:  true,
			Properties: &paho.PublishProperties{
				MessageExpiry: &expireSeconds,
			},
		})
		if err != nil {
			log.Warn("mqtt status publish error", "err", err)
		}
	}

	offlineMessage, err := StatusMessageJSON(false)
	if err != nil {
		return nil, fmt.Errorf("status message: %w", err)
	}

	mqttcfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		KeepAlive:                     120,

		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),

		WillMessage: &paho.WillMessage{
			Retain:  true,
			Topic:   statusChannel,
			Payload: offlineMessage,
		},
		WillProperties: &paho.WillProperties{
			WillDelayInterval: paho.Uint32(30),
			MessageExpiry:     paho.Uint32(86400),
		},

		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			log.Info("mqtt connection up")
			publishOnlineMessage(cm)
		},
		OnConnectError: func(err error) {
			log.Error("mqtt connect", "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnClientError: func(err error) {
				log.Error("mqtt client error", "err", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					log.Error("mqtt server requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					log.Error("mqtt server requested disconnect", "reasonCode", d.ReasonCode)
				}
			},
		},
	}

	switch broker.Scheme {
	case "mqtts", "ssl", "tls":
		mqttcfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errlog := logger.NewStdLog("mqtt error", true, log)
	mqttcfg.Errors = errlog
	mqttcfg.PahoErrors = errlog

	cm, err := autopaho.NewConnection(ctx, mqttcfg)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-time.After(1 * time.Hour):
				publishOnlineMessage(cm)
			case <-cm.Done():
				return
			}
		}
	}()

	return &Publisher{cm: cm, topics: cfg.Topics, log: log}, nil
}

// PublishSnapshot sends the snapshot as a retained message. Failures are
// logged; the next snapshot replaces this one anyway.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap *aggregator.Snapshot) {
	msg, err := json.Marshal(snap)
	if err != nil {
		p.log.WarnContext(ctx, "could not encode snapshot", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err = p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.topics.Snapshot(),
		Payload: msg,
		QoS:     1,
		Retain:  true,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	if err != nil {
		p.log.WarnContext(ctx, "mqtt snapshot publish error", "id", snap.ID, "err", err)
		return
	}
	p.log.DebugContext(ctx, "published snapshot", "topic", p.topics.Snapshot(), "id", snap.ID, "bytes", len(msg))
}

// Done is closed when the connection manager has shut down.
func (p *Publisher) Done() <-chan struct{} {
	return p.cm.Done()
}

type StatusMessage struct {
	Online    bool
	Version   version.Info
	UpdatedMQ time.Time
}

func StatusMessageJSON(online bool) ([]byte, error) {
	sm := &StatusMessage{
		Online:    online,
		Version:   version.VersionInfo(),
		UpdatedMQ: time.Now().Truncate(time.Second),
	}
	js, err := json.Marshal(sm)
	if err != nil {
		return nil, err
	}
	return js, err
}
