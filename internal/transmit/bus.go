package transmit

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/packet"
)

const busSinkName = "bus"

// BusConfig holds the NATS settings. URL and Subject are required.
type BusConfig struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	ConfigSubject string        `mapstructure:"config_subject"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Validate reports the first missing required setting.
func (c BusConfig) Validate() error {
	if c.URL == "" {
		return sinkErr(busSinkName, ErrMissingSetting, errors.New("url"))
	}
	if c.Subject == "" {
		return sinkErr(busSinkName, ErrMissingSetting, errors.New("subject"))
	}
	return nil
}

// busConn is the part of *nats.Conn the sink uses.
type busConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// BusSink publishes records on a NATS subject and, when ConfigSubject is
// set, applies configuration documents received on it.
type BusSink struct {
	cfg  BusConfig
	conn busConn
	log  *zap.Logger

	inbox *configInbox
	once  sync.Once
}

// NewBusSink connects to cfg.URL.
func NewBusSink(cfg BusConfig, updater ConfigUpdater, log *zap.Logger, metrics *monitoring.Metrics) (*BusSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	log = monitoring.OrDefault(log).Named("nats")

	opts := []nats.Option{
		nats.Name("pitwall"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, sinkErr(busSinkName, ErrConnect, err)
	}
	s, err := newBusSink(cfg, nc, updater, log, metrics)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

func newBusSink(cfg BusConfig, conn busConn, updater ConfigUpdater, log *zap.Logger, metrics *monitoring.Metrics) (*BusSink, error) {
	if metrics == nil {
		metrics = monitoring.NewDiscardMetrics()
	}
	s := &BusSink{cfg: cfg, conn: conn, log: monitoring.OrDefault(log)}
	if cfg.ConfigSubject == "" {
		return s, nil
	}

	s.inbox = &configInbox{
		sink:    busSinkName,
		topic:   cfg.ConfigSubject,
		updater: updater,
		log:     s.log,
		metrics: metrics,
	}
	if _, err := conn.Subscribe(cfg.ConfigSubject, func(msg *nats.Msg) {
		if err := s.HandleMessage(msg.Subject, msg.Data); err != nil {
			s.log.Error("rejected configuration message", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}); err != nil {
		return nil, sinkErr(busSinkName, ErrConnect, err)
	}
	return s, nil
}

// HandleRecord publishes rec as JSON. Delivery is fire-and-forget.
func (s *BusSink) HandleRecord(rec packet.Record) error {
	if rec == nil {
		return sinkErr(busSinkName, ErrNilRecord, nil)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return sinkErr(busSinkName, ErrPublish, err)
	}
	if err := s.conn.Publish(s.cfg.Subject, payload); err != nil {
		return sinkErr(busSinkName, ErrPublish, err)
	}
	return nil
}

// HandleMessage applies a message received on the configuration subject.
func (s *BusSink) HandleMessage(subject string, payload []byte) error {
	if s.inbox == nil {
		return nil
	}
	return s.inbox.handle(subject, payload)
}

// Close drains the connection.
func (s *BusSink) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Drain() })
	return err
}
