package transmit

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/packet"
)

const (
	remoteSinkName = "remote"

	TransportTLS = "tls"
	TransportWSS = "wss"

	defaultRemoteTimeout = 2 * time.Second
	publishQoS           = 0
)

// RemoteConfig holds the broker settings. Host, Port, Username, Password,
// PublishTopic and SubscribeTopic are required.
type RemoteConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Path           string        `mapstructure:"path"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	PublishTopic   string        `mapstructure:"publish_topic"`
	SubscribeTopic string        `mapstructure:"subscribe_topic"`
	ClientID       string        `mapstructure:"client_id"`
	CAFile         string        `mapstructure:"ca_file"`
	Transport      string        `mapstructure:"transport"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Validate reports the first missing required setting.
func (c RemoteConfig) Validate() error {
	required := []struct {
		name string
		set  bool
	}{
		{"host", c.Host != ""},
		{"port", c.Port > 0},
		{"username", c.Username != ""},
		{"password", c.Password != ""},
		{"publish_topic", c.PublishTopic != ""},
		{"subscribe_topic", c.SubscribeTopic != ""},
	}
	for _, r := range required {
		if !r.set {
			return sinkErr(remoteSinkName, ErrMissingSetting, errors.New(r.name))
		}
	}
	switch c.Transport {
	case "", TransportTLS, TransportWSS:
	default:
		return sinkErr(remoteSinkName, ErrMissingSetting, fmt.Errorf("transport must be %q or %q, got %q", TransportTLS, TransportWSS, c.Transport))
	}
	return nil
}

// BrokerURL returns the broker address for the configured transport. Both
// transports are TLS-protected.
func (c RemoteConfig) BrokerURL() string {
	host := c.Host + ":" + strconv.Itoa(c.Port)
	if c.Transport == TransportWSS {
		u := url.URL{Scheme: "wss", Host: host, Path: c.Path}
		if u.Path == "" {
			u.Path = "/mqtt"
		}
		return u.String()
	}
	return "ssl://" + host
}

func (c RemoteConfig) tlsConfig() (*tls.Config, error) {
	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CAFile == "" {
		return conf, nil
	}
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	conf.RootCAs = x509.NewCertPool()
	if !conf.RootCAs.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", c.CAFile)
	}
	return conf, nil
}

// brokerClient is the part of mqtt.Client the sink uses.
type brokerClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// RemoteOption configures a RemoteSink.
type RemoteOption func(*RemoteSink)

// WithRemoteLogger sets the sink's logger.
func WithRemoteLogger(l *zap.Logger) RemoteOption {
	return func(s *RemoteSink) { s.log = l }
}

// WithRemoteMetrics sets the metrics configuration updates are counted in.
func WithRemoteMetrics(m *monitoring.Metrics) RemoteOption {
	return func(s *RemoteSink) { s.metrics = m }
}

func withBrokerClient(newClient func(*mqtt.ClientOptions) brokerClient) RemoteOption {
	return func(s *RemoteSink) { s.newClient = newClient }
}

// RemoteSink publishes records to an MQTT broker and applies configuration
// documents received on the subscribe topic.
type RemoteSink struct {
	cfg       RemoteConfig
	log       *zap.Logger
	metrics   *monitoring.Metrics
	newClient func(*mqtt.ClientOptions) brokerClient

	client brokerClient
	inbox  *configInbox
	once   sync.Once
}

var pahoLogs sync.Once

// routePahoLogs sends the client library's internal logging to zap.
func routePahoLogs(log *zap.Logger) {
	pahoLogs.Do(func() {
		l := log.Named("paho")
		if errLog, err := zap.NewStdLogAt(l, zap.ErrorLevel); err == nil {
			mqtt.ERROR = errLog
			mqtt.CRITICAL = errLog
		}
		if warnLog, err := zap.NewStdLogAt(l, zap.WarnLevel); err == nil {
			mqtt.WARN = warnLog
		}
	})
}

// NewRemoteSink validates cfg, connects to the broker and subscribes to the
// configuration topic. updater may be nil to ignore inbound documents.
func NewRemoteSink(cfg RemoteConfig, updater ConfigUpdater, opts ...RemoteOption) (*RemoteSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pitwall-" + uuid.NewString()
	}

	s := &RemoteSink{
		cfg: cfg,
		newClient: func(o *mqtt.ClientOptions) brokerClient {
			return mqtt.NewClient(o)
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = monitoring.OrDefault(s.log).Named("mqtt").With(zap.String("broker", cfg.BrokerURL()))
	if s.metrics == nil {
		s.metrics = monitoring.NewDiscardMetrics()
	}
	s.inbox = &configInbox{
		sink:    remoteSinkName,
		topic:   cfg.SubscribeTopic,
		updater: updater,
		log:     s.log,
		metrics: s.metrics,
	}
	routePahoLogs(s.log)

	tlsConf, err := cfg.tlsConfig()
	if err != nil {
		return nil, sinkErr(remoteSinkName, ErrConnect, err)
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetTLSConfig(tlsConf).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.Timeout).
		SetWriteTimeout(cfg.Timeout).
		SetOrderMatters(false).
		SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
			s.log.Debug("unexpected mqtt message", zap.String("topic", msg.Topic()))
		}).
		SetOnConnectHandler(func(mqtt.Client) { s.log.Info("connected to MQTT broker") }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.Warn("lost connection to MQTT broker", zap.Error(err))
		})
	s.client = s.newClient(mopt)

	if err := s.tokenWait(s.client.Connect(), "connect"); err != nil {
		return nil, sinkErr(remoteSinkName, ErrConnect, err)
	}
	if err := s.tokenWait(s.client.Subscribe(cfg.SubscribeTopic, publishQoS, s.onMessage), "subscribe"); err != nil {
		s.client.Disconnect(0)
		return nil, sinkErr(remoteSinkName, ErrConnect, err)
	}
	s.log.Info("subscribed to configuration topic", zap.String("topic", cfg.SubscribeTopic))
	return s, nil
}

func (s *RemoteSink) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(s.cfg.Timeout) {
		return fmt.Errorf("%s timeout after %s", tag, s.cfg.Timeout)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("%s: %w", tag, err)
	}
	return nil
}

// validTopic reports whether topic can be published to: non-empty UTF-8
// without wildcards or NUL.
func validTopic(topic string) bool {
	return topic != "" && len(topic) <= 65535 &&
		!strings.ContainsAny(topic, "+#\x00") && utf8.ValidString(topic)
}

// HandleRecord publishes rec as JSON with QoS 0. The wait for the publish
// is bounded by the configured timeout.
func (s *RemoteSink) HandleRecord(rec packet.Record) error {
	if rec == nil {
		return sinkErr(remoteSinkName, ErrNilRecord, nil)
	}
	if !validTopic(s.cfg.PublishTopic) {
		return sinkErr(remoteSinkName, ErrInvalidTopic, fmt.Errorf("topic %q", s.cfg.PublishTopic))
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return sinkErr(remoteSinkName, ErrPublish, err)
	}
	if err := s.tokenWait(s.client.Publish(s.cfg.PublishTopic, publishQoS, false, payload), "publish"); err != nil {
		return sinkErr(remoteSinkName, ErrPublish, err)
	}
	return nil
}

// HandleMessage applies a message received on the subscribe topic.
func (s *RemoteSink) HandleMessage(topic string, payload []byte) error {
	return s.inbox.handle(topic, payload)
}

func (s *RemoteSink) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
		s.log.Error("rejected configuration message", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// Disconnect closes the broker connection. Later calls do nothing.
func (s *RemoteSink) Disconnect() {
	s.once.Do(func() {
		s.client.Disconnect(uint(s.cfg.Timeout / time.Millisecond))
		s.log.Info("disconnected from MQTT broker")
	})
}

// Close implements io.Closer.
func (s *RemoteSink) Close() error {
	s.Disconnect()
	return nil
}
