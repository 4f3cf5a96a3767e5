package audit

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/storage/models"
	"github.com/multidb-router/backend/pkg/logger"
)

// Publisher exports audit entries to NATS for external observability
// consumers. It is optional; a nil Publisher disables the feed.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("multidb-router-audit"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("Audit export publisher connected",
		zap.String("url", url),
		zap.String("subject", subject),
	)

	return &Publisher{conn: conn, subject: subject}, nil
}

func (p *Publisher) Publish(entry models.AuditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		logger.Warn("Failed to marshal audit entry for export", zap.Error(err))
		return
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		logger.Warn("Failed to publish audit entry",
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
	}
}

func (p *Publisher) Close() {
	p.conn.Drain()
}
