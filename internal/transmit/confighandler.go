package transmit

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/monitoring"
)

// configInbox applies configuration documents arriving on a subscribed
// topic. It is shared by the MQTT and NATS sinks.
type configInbox struct {
	sink    string
	topic   string
	updater ConfigUpdater
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// handle ignores messages for other topics, rejects payloads that are not
// UTF-8 text and passes the rest to the updater.
func (c *configInbox) handle(topic string, payload []byte) error {
	if topic != c.topic {
		c.log.Debug("ignoring message on unexpected topic", zap.String("topic", topic))
		return nil
	}
	if !utf8.Valid(payload) {
		c.metrics.ConfigUpdates.WithLabelValues("rejected").Inc()
		return sinkErr(c.sink, ErrNotUTF8, nil)
	}
	if c.updater == nil {
		return nil
	}
	if err := c.updater.Update(string(payload)); err != nil {
		c.metrics.ConfigUpdates.WithLabelValues("rejected").Inc()
		return err
	}
	c.metrics.ConfigUpdates.WithLabelValues("applied").Inc()
	c.log.Info("configuration updated from remote", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}
