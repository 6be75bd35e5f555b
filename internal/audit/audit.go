package audit

import (
	"context"
	"time"

	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// Recorder writes access-log entries for served content. Recording is
// best-effort: a failed write is logged server-side and never fails the
// serving operation.
type Recorder struct {
	store  store.Store
	logger *logger.Logger
}

// NewRecorder creates an access recorder backed by the catalog store.
func NewRecorder(s store.Store, logger *logger.Logger) *Recorder {
	return &Recorder{
		store:  s,
		logger: logger,
	}
}

// RecordAccess appends an access-log entry correlating the served response
// with its watermark id and response latency.
func (r *Recorder) RecordAccess(ctx context.Context, user *store.User, apiKey *store.APIKey, contentType, contentID, technologyID, watermarkID string, latency time.Duration) {
	entry := &store.AccessLogEntry{
		UserID:         user.ID,
		ContentType:    contentType,
		ContentID:      contentID,
		TechnologyID:   technologyID,
		WatermarkID:    watermarkID,
		ResponseTimeMS: int(latency.Milliseconds()),
	}
	if apiKey != nil {
		entry.APIKeyID = apiKey.ID
		entry.IDEType = apiKey.IDEType
	}

	if err := r.store.RecordAccessLog(ctx, entry); err != nil {
		r.logger.Errorf("Failed to write access log for %s %s: %v", contentType, contentID, err)
		return
	}

	r.logger.Debugf("Access log: %s %s by user %s (watermark %s)", contentType, contentID, user.ID, watermarkID)
}

// RecordView tracks a protocol view and the user's daily usage aggregate.
// Like RecordAccess, failures never propagate to the caller.
func (r *Recorder) RecordView(ctx context.Context, user *store.User, protocol *store.Protocol, apiKey *store.APIKey) {
	if err := r.store.RecordView(ctx, user, protocol, apiKey); err != nil {
		r.logger.Errorf("Failed to record view of protocol %s: %v", protocol.ID, err)
	}
}
