package sync

import (
	"context"
	"time"

	"github.com/chmdznr/fieldsync/pkg/models"
)

// Submit handles one submission from the field worker. While online it
// writes straight to the remote store (and secondary target), bypassing
// the queue; offline, or when the direct write fails, it enqueues for a
// later pass. Either way the form's draft is cleared: from the field
// worker's perspective the submission is handed off.
//
// The returned flag reports whether the record reached the server
// directly.
func (o *Orchestrator) Submit(ctx context.Context, sub *models.QueuedSubmission) (bool, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	online := o.monitor == nil || o.monitor.IsOnline()
	if online {
		result, err := o.remote.InsertSubmission(ctx, sub.FormID, sub.UserID, sub.Payload, sub.ID)
		if err == nil {
			if o.sheets != nil {
				if serr := o.sheets.PushRecord(ctx, result.RecordID, sub.FormID, sub.Payload); serr != nil {
					o.config.Logger.Printf("Sheet push failed for record %s: %v", result.RecordID, serr)
					failure := &models.SheetFailure{
						RecordID: result.RecordID,
						FormID:   sub.FormID,
						Payload:  sub.Payload,
						Error:    serr.Error(),
						FailedAt: time.Now().UTC(),
					}
					if perr := o.db.PutSheetFailure(ctx, failure); perr != nil {
						o.config.Logger.Printf("Failed to record sheet failure for %s: %v", result.RecordID, perr)
					}
				}
			}
			if derr := o.db.DeleteDraft(ctx, sub.FormID); derr != nil {
				o.config.Logger.Printf("Failed to clear draft for form %s: %v", sub.FormID, derr)
			}
			return true, nil
		}
		o.config.Logger.Printf("Direct submit failed, queueing %s: %v", sub.ID, err)
	}

	if err := o.queue.Enqueue(ctx, sub); err != nil {
		return false, err
	}
	if err := o.db.DeleteDraft(ctx, sub.FormID); err != nil {
		o.config.Logger.Printf("Failed to clear draft for form %s: %v", sub.FormID, err)
	}
	return false, nil
}
