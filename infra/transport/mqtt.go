// Package transport provides delivery backends for the core notification
// contract. The MQTT backend pushes to a per-responder topic; responders'
// devices hold a subscription on their own topic.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hemolink/hemolink/core/errs"
	coretransport "github.com/hemolink/hemolink/core/transport"
	"github.com/hemolink/hemolink/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	TopicBase  string      `json:"topic_base"`
	QoS        byte        `json:"qos"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	TLSConfig  *tls.Config `json:"-"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTTransport implements transport.Transport over an MQTT broker.
type MQTTTransport struct {
	cli       pahoClient
	topicBase string
	qos       byte
	log       logger.Logger
}

// NewMQTTTransport connects to the broker.
func NewMQTTTransport(cfg Config) (*MQTTTransport, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_transport")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	base := cfg.TopicBase
	if base == "" {
		base = "responder"
	}
	return &MQTTTransport{cli: c, topicBase: base, qos: cfg.QoS, log: log}, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Send publishes the payload to the recipient's topic. Broker and connection
// failures are transient; a payload that cannot be encoded is permanent.
func (t *MQTTTransport) Send(ctx context.Context, recipientID string, p coretransport.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return &errs.TransportError{Transient: false, Err: err}
	}
	if !t.cli.IsConnected() {
		return &errs.TransportError{Transient: true, Err: fmt.Errorf("not connected")}
	}

	topic := fmt.Sprintf("%s/%s/notify", t.topicBase, recipientID)
	token := t.cli.Publish(topic, t.qos, false, body)
	select {
	case <-ctx.Done():
		return &errs.TransportError{Transient: true, Err: ctx.Err()}
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		t.log.Errorf("publish to %s failed: %v", topic, err)
		return &errs.TransportError{Transient: true, Err: err}
	}
	t.log.Debugf("notified %s on %s", recipientID, topic)
	return nil
}

// Close gracefully disconnects from the broker.
func (t *MQTTTransport) Close() {
	if t.cli != nil && t.cli.IsConnected() {
		t.cli.Disconnect(250)
	}
}
