package notifier

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/alphaworks/marketplace-messaging/internal/model"
	"github.com/alphaworks/marketplace-messaging/pkg/logger"
)

const subjectPrefix = "conv"

// messageSubject returns the NATS subject for a conversation channel.
func messageSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg", subjectPrefix, conversationID)
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

// NATS is a Notifier backed by core NATS pub/sub, for deployments
// running more than one API instance.
type NATS struct {
	conn   *nats.Conn
	logger *logger.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription // conversation id + conn id -> subscription
}

var _ Notifier = (*NATS)(nil)

// ConnectNATS establishes a connection to the NATS server.
func ConnectNATS(cfg NATSConfig, log *logger.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATS{
		conn:   nc,
		logger: log,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

func subKey(conversationID, connID string) string {
	return conversationID + "/" + connID
}

func (n *NATS) Subscribe(conversationID, connID string, fn EventHandler) error {
	sub, err := n.conn.Subscribe(messageSubject(conversationID), func(m *nats.Msg) {
		var event model.MessageEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			n.logger.Warn("dropping malformed notify payload", zap.Error(err))
			return
		}
		fn(event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to conversation channel: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	key := subKey(conversationID, connID)
	if prior, ok := n.subs[key]; ok {
		_ = prior.Unsubscribe()
	}
	n.subs[key] = sub
	return nil
}

func (n *NATS) Unsubscribe(conversationID, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := subKey(conversationID, connID)
	if sub, ok := n.subs[key]; ok {
		_ = sub.Unsubscribe()
		delete(n.subs, key)
	}
}

func (n *NATS) Publish(ctx context.Context, event model.MessageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.conn.Publish(messageSubject(event.ConversationID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (n *NATS) Backend() string { return "nats" }

func (n *NATS) Ready(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return nil
}

func (n *NATS) Close() {
	n.mu.Lock()
	for key, sub := range n.subs {
		_ = sub.Unsubscribe()
		delete(n.subs, key)
	}
	n.mu.Unlock()
	n.conn.Close()
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
