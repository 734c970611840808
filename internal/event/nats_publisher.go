package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	pkgerrors "github.com/pkg/errors"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

// PublishMarker 记录推送成功后标记
type PublishMarker interface {
	MarkPublished(ctx context.Context, recordIDs []string) error
}

// NatsPublisher 将审计记录推送到 NATS，主题为 <prefix>.<记录类型>
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
	marker PublishMarker
}

// NewNatsPublisher 连接 NATS
func NewNatsPublisher(cfg config.NatsConfig, marker PublishMarker) (*NatsPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("tgs-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "connect to NATS at %s", cfg.URL)
	}
	logger.Info("Connected to NATS at %s, publishing under %s", cfg.URL, cfg.SubjectPrefix)
	return &NatsPublisher{conn: conn, prefix: cfg.SubjectPrefix, marker: marker}, nil
}

// Subject 记录对应的主题
func (p *NatsPublisher) Subject(t logic.RecordType) string {
	return p.prefix + "." + string(t)
}

// Publish 实现 Publisher
func (p *NatsPublisher) Publish(ctx context.Context, records []logic.Record) error {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return pkgerrors.Wrapf(err, "encode record %s", r.ID)
		}
		if err := p.conn.Publish(p.Subject(r.Type), data); err != nil {
			return pkgerrors.Wrapf(err, "publish record %s", r.ID)
		}
		ids = append(ids, r.ID)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		return pkgerrors.Wrap(err, "flush NATS connection")
	}
	if p.marker == nil {
		return nil
	}
	return p.marker.MarkPublished(ctx, ids)
}

// Close 关闭连接，先发送缓冲中的消息
func (p *NatsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		logger.Warn("NATS drain: %v", err)
		p.conn.Close()
	}
}
