package ruvlistener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/facebookgo/clock"
	config "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Config"
	logger "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Logger"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

// MQTTSource subscribes to Ruuvi Gateway topics and emits the relayed
// advertisements on a buffered channel.
type MQTTSource struct {
	cfg        config.MQTTConfig
	brokerURL  string
	mqttClient mqtt.Client
	clock      clock.Clock
	logger     *logger.Logger

	// guards mqttClient and closed
	mu     sync.RWMutex
	closed bool
	events chan ruvmodels.Advertisement
}

func NewMQTTSource(cfg *config.Config, clk clock.Clock, logger *logger.Logger) *MQTTSource {
	return &MQTTSource{
		cfg:       cfg.MQTT,
		brokerURL: cfg.GetMQTTBrokerURL(),
		clock:     clk,
		logger:    logger.WithComponent("mqtt"),
		events:    make(chan ruvmodels.Advertisement, cfg.EventBuffer),
	}
}

// Events returns the channel advertisements are delivered on. It is closed by Stop.
func (s *MQTTSource) Events() <-chan ruvmodels.Advertisement {
	return s.events
}

func (s *MQTTSource) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.brokerURL).
		SetClientID(s.cfg.ClientID).
		// callbacks run sequentially so one tag's readings keep their order
		SetOrderMatters(true).
		SetKeepAlive(s.cfg.KeepAlive).
		SetPingTimeout(s.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)

	if s.cfg.BrokerUser != "" {
		opts.SetUsername(s.cfg.BrokerUser)
		opts.SetPassword(s.cfg.BrokerPass)
	}

	if s.cfg.UseTLS {
		tlsCfg, err := tlsConfig(s.cfg.CACertPath)
		if err != nil {
			return errors.Wrap(err, "failed to build TLS config")
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.ErrorWithError(err, "MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topic := s.topic()
		s.logger.WithField("topic", topic).Info("MQTT connected, subscribing to topic")
		if token := c.Subscribe(topic, 0, s.onMessage); token.Wait() && token.Error() != nil {
			s.logger.WithField("topic", topic).ErrorWithError(token.Error(), "Failed to subscribe to MQTT topic")
		}
	}

	client := mqtt.NewClient(opts)
	s.mu.Lock()
	s.mqttClient = client
	s.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		// abort the background connect retries
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "failed to connect to MQTT broker %s", s.brokerURL)
	}
	return nil
}

// Stop disconnects from the broker and closes the events channel.
func (s *MQTTSource) Stop() {
	if client := s.client(); client != nil {
		client.Disconnect(500)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *MQTTSource) IsConnected() bool {
	client := s.client()
	return client != nil && client.IsConnected()
}

func (s *MQTTSource) client() mqtt.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mqttClient
}

func (s *MQTTSource) topic() string {
	if s.cfg.SharedGroup != "" {
		return fmt.Sprintf("$share/%s/%s", s.cfg.SharedGroup, s.cfg.Topic)
	}
	return s.cfg.Topic
}

func (s *MQTTSource) onMessage(_ mqtt.Client, m mqtt.Message) {
	adv, err := ParseGatewayMessage(m.Topic(), m.Payload(), s.clock.Now())
	if err != nil {
		s.logger.WithError(err).WithField("topic", m.Topic()).Debug("Ignoring MQTT message")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	// never block the paho router: a full buffer drops the advertisement
	select {
	case s.events <- adv:
	default:
		s.logger.WithField("address", adv.Address.String()).Warn("Event buffer full, dropping advertisement")
	}
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, errors.Newf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
