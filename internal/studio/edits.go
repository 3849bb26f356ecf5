package studio

import (
	"context"

	"marai-studio/internal/models"
	"marai-studio/internal/timeline"

	"gorm.io/gorm"
)

// EditLog records committed segment edits and their upstream sync.
type EditLog struct {
	db *gorm.DB
}

func NewEditLog(db *gorm.DB) *EditLog {
	return &EditLog{db: db}
}

// Record stores a new, not yet synced edit.
func (l *EditLog) Record(ctx context.Context, slug, trackID, segmentID string, line timeline.TranscriptLine) (*models.SegmentEdit, error) {
	edit := &models.SegmentEdit{
		TaskSlug:  slug,
		TrackID:   trackID,
		SegmentID: segmentID,
		LineID:    string(line.ID),
		StartMs:   line.StartAtMs,
		EndMs:     line.EndAtMs,
		Value:     line.Value,
	}
	if err := l.db.WithContext(ctx).Create(edit).Error; err != nil {
		return nil, err
	}
	return edit, nil
}

// MarkSynced stores the outcome of pushing an edit upstream.
func (l *EditLog) MarkSynced(ctx context.Context, id uint, syncErr error) error {
	updates := map[string]interface{}{"synced": syncErr == nil, "sync_error": ""}
	if syncErr != nil {
		updates["sync_error"] = syncErr.Error()
	}
	return l.db.WithContext(ctx).Model(&models.SegmentEdit{}).Where("id = ?", id).Updates(updates).Error
}

// List returns a task's edits, oldest first.
func (l *EditLog) List(ctx context.Context, slug string) ([]models.SegmentEdit, error) {
	var edits []models.SegmentEdit
	err := l.db.WithContext(ctx).Where("task_slug = ?", slug).Order("id").Find(&edits).Error
	return edits, err
}

// Unsynced returns a task's edits that never reached the backend.
func (l *EditLog) Unsynced(ctx context.Context, slug string) ([]models.SegmentEdit, error) {
	var edits []models.SegmentEdit
	err := l.db.WithContext(ctx).Where("task_slug = ? AND synced = ?", slug, false).Order("id").Find(&edits).Error
	return edits, err
}

func editLine(e models.SegmentEdit) timeline.TranscriptLine {
	return timeline.TranscriptLine{
		ID:        timeline.LineID(e.LineID),
		StartAtMs: e.StartMs,
		EndAtMs:   e.EndMs,
		Value:     e.Value,
	}
}
