package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/telenode/internal/config"
)

var (
	// ErrNoLink is returned by ConnectSession when the link is down.
	ErrNoLink = errors.New("mqtt link not connected")
	// ErrNoSession is returned when an operation needs a session.
	ErrNoSession = errors.New("mqtt session not established")
)

// Transport implements the connectivity controller's transport over a
// single broker connection. All methods except the paho callbacks run on
// the cycle goroutine.
type Transport struct {
	cfg    config.MQTTConfig
	broker *url.URL
	logger *slog.Logger

	conn   net.Conn
	client *paho.Client

	// lost is set from paho's goroutines when the server disconnects or
	// the client hits a fatal error. Poll tears the connection down.
	lost atomic.Bool
}

// New creates a Transport for cfg. It does not connect.
func New(cfg config.MQTTConfig, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	broker, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if broker.Hostname() == "" {
		return nil, fmt.Errorf("mqtt broker URL %q has no host", cfg.Broker)
	}
	return &Transport{cfg: cfg, broker: broker, logger: logger}, nil
}

// LinkUp reports whether the broker connection is open.
func (t *Transport) LinkUp() bool {
	return t.conn != nil && !t.lost.Load()
}

// SessionUp reports whether the MQTT session is established.
func (t *Transport) SessionUp() bool {
	return t.client != nil && !t.lost.Load()
}

// Poll services the transport. A connection paho reported lost is torn
// down so the next LinkUp and SessionUp calls see it.
func (t *Transport) Poll() {
	if t.lost.Load() && (t.conn != nil || t.client != nil) {
		t.logger.Debug("mqtt connection lost, tearing down", "broker", t.cfg.Broker)
		t.teardown()
	}
}

// ConnectLink dials the broker, using TLS for mqtts:// or ssl:// URLs.
// The dial is bounded by the connect timeout.
func (t *Transport) ConnectLink(ctx context.Context) error {
	if t.LinkUp() {
		return nil
	}
	t.teardown()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout())
	defer cancel()

	addr := t.address()
	var (
		conn net.Conn
		err  error
	)
	if t.secure() {
		d := &tls.Dialer{Config: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: t.broker.Hostname(),
		}}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial mqtt broker %s: %w", addr, err)
	}

	t.conn = conn
	t.lost.Store(false)
	t.logger.Debug("mqtt link up", "broker", addr)
	return nil
}

// ConnectSession performs the MQTT handshake on the open link. paho
// closes the connection when the handshake fails, so a failure also
// drops the link.
func (t *Transport) ConnectSession(ctx context.Context, clientID string) error {
	if !t.LinkUp() {
		return ErrNoLink
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout())
	defer cancel()

	client := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     t.conn,
		OnClientError: func(err error) {
			t.lost.Store(true)
			t.logger.Warn("mqtt client error", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			t.lost.Store(true)
			t.logger.Warn("mqtt server disconnected", "reason_code", d.ReasonCode)
		},
	})

	cp := &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  uint16(t.cfg.KeepAliveSec),
		CleanStart: true,
	}
	if t.cfg.Username != "" {
		cp.UsernameFlag = true
		cp.Username = t.cfg.Username
	}
	if t.cfg.Password != "" {
		cp.PasswordFlag = true
		cp.Password = []byte(t.cfg.Password)
	}

	ca, err := client.Connect(ctx, cp)
	if err != nil {
		t.teardown()
		if ca != nil {
			return fmt.Errorf("mqtt connect refused (reason %d): %w", ca.ReasonCode, err)
		}
		return fmt.Errorf("mqtt connect: %w", err)
	}

	t.client = client
	t.logger.Info("mqtt connected to broker", "broker", t.cfg.Broker, "client_id", clientID)
	return nil
}

// Send publishes payload at QoS 1 and waits for the acknowledgement,
// bounded by the publish timeout. It reports false on any failure.
func (t *Transport) Send(ctx context.Context, topic string, payload []byte) bool {
	if !t.SessionUp() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.PublishTimeout())
	defer cancel()

	if _, err := t.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		t.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// Close disconnects cleanly if a session is up and releases the link.
func (t *Transport) Close() error {
	var err error
	if t.SessionUp() {
		err = t.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	t.teardown()
	return err
}

func (t *Transport) teardown() {
	t.client = nil
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *Transport) secure() bool {
	return t.broker.Scheme == "mqtts" || t.broker.Scheme == "ssl"
}

// address returns host:port, defaulting the port by scheme.
func (t *Transport) address() string {
	port := t.broker.Port()
	if port == "" {
		port = "1883"
		if t.secure() {
			port = "8883"
		}
	}
	return net.JoinHostPort(t.broker.Hostname(), port)
}
