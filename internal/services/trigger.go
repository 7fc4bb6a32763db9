package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/pdfrenderer/internal/models"
)

// ParseTriggerObject matches hubs/{hubId}/content/{contentId}/{triggerName}.
// Anything else, including the renderer's own outputs, does not match.
func ParseTriggerObject(object, triggerName string) (hubID, contentID string, ok bool) {
	parts := strings.Split(object, "/")
	if len(parts) != 5 || parts[0] != "hubs" || parts[2] != "content" || parts[4] != triggerName {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// ProcessEvent renders the PDF named by a storage finalize event. Events for
// other objects are acknowledged and ignored. An event that finds a render
// already in progress fails with models.ErrLeaseHeld so the trigger redelivers
// it once the lease is released.
func (f *RendererFunction) ProcessEvent(ctx context.Context, e models.GCSEvent, triggerName string) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	hubID, contentID, ok := ParseTriggerObject(e.Name, triggerName)
	if !ok {
		logCtx.Debug("Ignoring object that is not a render source.")
		return nil
	}

	_, err := f.Process(ctx, &models.ProcessRequest{
		Bucket:    e.Bucket,
		Name:      e.Name,
		HubID:     hubID,
		ContentID: contentID,
	})
	if errors.Is(err, models.ErrLeaseHeld) {
		logCtx.Info("Render already in progress, event will be redelivered.")
	}
	return err
}
