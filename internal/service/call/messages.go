package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/pkg/constants"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// SystemMessageWriter appends server-authored entries to a conversation
// timeline. Writes are best-effort and never fail the caller.
type SystemMessageWriter interface {
	AppendSystemMessage(ctx context.Context, conversationID uuid.UUID, text string)
}

// SystemMessageStore persists a system message
type SystemMessageStore interface {
	Insert(ctx context.Context, message *domain.SystemMessage) error
}

// NoopMessageWriter drops every message
type NoopMessageWriter struct{}

func (NoopMessageWriter) AppendSystemMessage(context.Context, uuid.UUID, string) {}

// AsyncMessageWriter writes system messages on a background goroutine,
// detached from the request and bounded by a timeout
type AsyncMessageWriter struct {
	store   SystemMessageStore
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncMessageWriter creates a writer over store
func NewAsyncMessageWriter(store SystemMessageStore, timeout time.Duration) *AsyncMessageWriter {
	if timeout <= 0 {
		timeout = constants.SystemMessageTimeout
	}
	return &AsyncMessageWriter{store: store, timeout: timeout}
}

// AppendSystemMessage schedules the write and returns immediately
func (w *AsyncMessageWriter) AppendSystemMessage(ctx context.Context, conversationID uuid.UUID, text string) {
	message := &domain.SystemMessage{
		ConversationID: conversationID,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}
	parent := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(parent, w.timeout)
		defer cancel()

		if err := w.store.Insert(ctx, message); err != nil {
			metrics.SystemMessageWritesTotal.WithLabelValues("failed").Inc()
			logger.Warn("Failed to append system message",
				logger.ConversationID(conversationID),
				zap.Error(err))
			return
		}
		metrics.SystemMessageWritesTotal.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until every scheduled write has finished
func (w *AsyncMessageWriter) Wait() {
	w.wg.Wait()
}

// FormatDuration renders seconds as M:SS, or H:MM:SS from one hour on
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func callEndedText(call *domain.Call, declined bool) string {
	text := "Звонок завершён"
	if call.WithVideo {
		text = "Видеозвонок завершён"
	}
	if declined {
		return text + ": отклонён"
	}
	return text + durationSuffix(call.DurationSec)
}

func groupEndedText(gc *domain.GroupCall) string {
	return "Групповой звонок завершён" + durationSuffix(gc.DurationSec)
}

func durationSuffix(seconds *int) string {
	if seconds == nil {
		return ""
	}
	return ", длительность " + FormatDuration(*seconds)
}
