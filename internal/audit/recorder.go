package audit

import (
	"sync"

	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/metrics"
	"github.com/multidb-router/backend/internal/storage/models"
	"github.com/multidb-router/backend/internal/storage/sqlite"
	"github.com/multidb-router/backend/pkg/logger"
)

// Recorder appends exactly one entry per completed request. The sqlite append
// is the source of truth; the NATS export and live subscribers are best-effort
// fan-out and never fail a request.
type Recorder struct {
	store     *sqlite.Client
	publisher *Publisher

	mu   sync.Mutex
	subs map[int]chan models.AuditEntry
	next int
}

func NewRecorder(store *sqlite.Client, publisher *Publisher) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		subs:      make(map[int]chan models.AuditEntry),
	}
}

func (r *Recorder) Record(entry models.AuditEntry) error {
	if err := r.store.AppendEntry(&entry); err != nil {
		metrics.AuditAppendFailures.Inc()
		logger.Error("Failed to append audit entry",
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
		return err
	}

	metrics.AuditEntriesTotal.WithLabelValues(entry.Status).Inc()

	if r.publisher != nil {
		r.publisher.Publish(entry)
	}
	r.broadcast(entry)
	return nil
}

func (r *Recorder) Get(requestID string) (*models.AuditEntry, error) {
	return r.store.GetEntry(requestID)
}

func (r *Recorder) List(limit, offset int) ([]models.AuditEntry, error) {
	return r.store.ListEntries(limit, offset)
}

// Subscribe returns a live feed of appended entries plus a cancel func.
// Slow consumers drop entries rather than back-pressuring the hot path.
func (r *Recorder) Subscribe() (<-chan models.AuditEntry, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	ch := make(chan models.AuditEntry, 64)
	r.subs[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (r *Recorder) broadcast(entry models.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
