package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
	"github.com/markdave123-py/Parley/internal/observability"
)

const queueSize = 64

// Source is what an export reads.
type Source interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Job is one queued transcript upload.
type Job struct {
	UserID         string
	ConversationID string
	Key            string
}

// Transcript is the uploaded document.
type Transcript struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
	ExportedAt   time.Time           `json:"exported_at"`
}

// Exporter uploads conversation transcripts to object storage from a bounded
// in-memory queue drained by a fixed set of workers.
type Exporter struct {
	store   Source
	obj     core.ObjectClient
	bucket  string
	jobs    chan Job
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewExporter(store Source, obj core.ObjectClient, bucket string, metrics *observability.Metrics, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		store:   store,
		obj:     obj,
		bucket:  bucket,
		jobs:    make(chan Job, queueSize),
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// TranscriptKey is the object key of a transcript exported at t.
func TranscriptKey(userID, conversationID string, t time.Time) string {
	return fmt.Sprintf("users/%s/conversations/%s/transcript-%d.json", userID, conversationID, t.Unix())
}

// Start launches numWorkers workers that run until ctx is done.
func (e *Exporter) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		e.wg.Add(1)
		go func(w int) {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					e.logger.Debug("export worker shutting down", "worker", w)
					return
				case job := <-e.jobs:
					e.logger.Info("exporting transcript", "worker", w, "conversation_id", job.ConversationID, "key", job.Key)
					if err := e.processOne(ctx, job); err != nil {
						e.metrics.RecordExport("failed")
						e.logger.Error("transcript export failed", "conversation_id", job.ConversationID, "error", err)
						continue
					}
					e.metrics.RecordExport("uploaded")
				}
			}
		}(w)
	}
}

// Wait blocks until every worker has returned.
func (e *Exporter) Wait() { e.wg.Wait() }

// Enqueue schedules an export and returns the key it will be stored under.
// A full queue is reported as core.ErrUnavailable instead of blocking the request.
func (e *Exporter) Enqueue(userID, conversationID string) (string, error) {
	job := Job{
		UserID:         userID,
		ConversationID: conversationID,
		Key:            TranscriptKey(userID, conversationID, e.now()),
	}
	select {
	case e.jobs <- job:
		e.metrics.RecordExport("queued")
		return job.Key, nil
	default:
		return "", fmt.Errorf("export queue full: %w", core.ErrUnavailable)
	}
}

func (e *Exporter) processOne(ctx context.Context, job Job) error {
	procCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	conv, err := e.store.GetConversation(procCtx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	msgs, err := e.store.ListMessages(procCtx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	body, err := json.Marshal(Transcript{Conversation: *conv, Messages: msgs, ExportedAt: e.now()})
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	if _, err := e.obj.UploadFile(procCtx, e.bucket, job.Key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("upload transcript: %w", err)
	}
	return nil
}
