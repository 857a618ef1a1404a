package publisher

import (
	"encoding/json"
	"strings"
	"time"

	"railway-monitor/internal/broadcast"
	"railway-monitor/internal/rail"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher mirrors monitoring output onto NATS subjects under a prefix:
//
//	<prefix>.trains.<section>.<train_id>
//	<prefix>.sections.<section>
//	<prefix>.alerts.<alert_type>
//	<prefix>.conflicts.<section>
//	<prefix>.disruptions.<disruption_type>
type NATSPublisher struct {
	nc          conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	log         zerolog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("railway-monitor"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Str("event", "nats.disconnected").Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Str("event", "nats.reconnected").Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Str("event", "nats.closed").Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, prefix, logSubjects, m, log), nil
}

func newPublisher(nc conn, prefix string, logSubjects bool, m PublisherMetrics, log zerolog.Logger) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "railway"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, log: log}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) PublishTrainUpdate(u broadcast.TrainUpdate) error {
	return p.publish(u, "trains", u.SectionID, u.TrainID)
}

func (p *NATSPublisher) PublishSectionUpdate(u broadcast.SectionUpdate) error {
	return p.publish(u, "sections", u.SectionID)
}

func (p *NATSPublisher) PublishAlert(a rail.Alert) error {
	return p.publish(a, "alerts", string(a.AlertType))
}

func (p *NATSPublisher) PublishConflict(c rail.Conflict) error {
	return p.publish(c, "conflicts", c.SectionID)
}

func (p *NATSPublisher) PublishDisruption(d broadcast.DisruptionAlert) error {
	return p.publish(d, "disruptions", string(d.DisruptionType))
}

func (p *NATSPublisher) publish(v any, kind string, tokens ...string) error {
	subject := p.subject(kind, tokens...)
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug().Str("event", "nats.publish").Str("subject", subject).Int("bytes", len(b)).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func (p *NATSPublisher) subject(kind string, tokens ...string) string {
	parts := make([]string, 0, len(tokens)+2)
	parts = append(parts, p.prefix, kind)
	for _, t := range tokens {
		parts = append(parts, subjectToken(t))
	}
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
