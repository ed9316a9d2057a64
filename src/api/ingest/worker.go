package ingest

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/pointdeck/pointdeck/src/api/types"
)

// Worker drains pending screenshot ingestions: extract issues, append them
// to the room's queue, drop the ingestion record and its stored image.
type Worker struct {
	db               *gorm.DB
	extractor        Extractor
	store            FileStore
	pollInterval     time.Duration
	failureRetention time.Duration
}

func NewWorker(db *gorm.DB, extractor Extractor, store FileStore, pollInterval, failureRetention time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if failureRetention <= 0 {
		failureRetention = 5 * time.Second
	}
	return &Worker{
		db:               db,
		extractor:        extractor,
		store:            store,
		pollInterval:     pollInterval,
		failureRetention: failureRetention,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
			w.sweepFailed()
		}
	}
}

func (w *Worker) processPending(ctx context.Context) {
	var pending []types.IssueIngestion
	if err := w.db.Where("status = ?", types.IngestionProcessing).Find(&pending).Error; err != nil {
		log.Printf("ingest: list pending: %v", err)
		return
	}

	for _, ingestion := range pending {
		if ctx.Err() != nil {
			return
		}
		w.processOne(ctx, ingestion)
	}
}

func (w *Worker) processOne(ctx context.Context, ingestion types.IssueIngestion) {
	issues, err := w.extractor.Extract(ctx, ingestion.ImageRef)
	if err != nil {
		log.Printf("ingest: extract for ingestion %d: %v", ingestion.ID, err)
		now := time.Now()
		if err := w.db.Model(&types.IssueIngestion{}).Where("id = ?", ingestion.ID).
			Updates(map[string]interface{}{
				"status":    types.IngestionFailed,
				"failed_at": now,
			}).Error; err != nil {
			log.Printf("ingest: mark failed %d: %v", ingestion.ID, err)
		}
		return
	}

	err = w.db.Transaction(func(tx *gorm.DB) error {
		// Extracted issues land at the head of the queue with order 0.
		for _, extracted := range issues {
			issue := types.Issue{
				RoomID:      ingestion.RoomID,
				Title:       extracted.Title,
				Description: extracted.Description,
				OrderKey:    0,
				Status:      types.IssuePendingVote,
			}
			if err := tx.Create(&issue).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&types.IssueIngestion{}, ingestion.ID).Error
	})
	if err != nil {
		log.Printf("ingest: store issues for ingestion %d: %v", ingestion.ID, err)
		return
	}

	if err := w.store.Remove(ingestion.ImageRef); err != nil {
		log.Printf("ingest: remove image %q: %v", ingestion.ImageRef, err)
	}

	log.Printf("ingest: ingestion %d added %d issues to room %d", ingestion.ID, len(issues), ingestion.RoomID)
}

// sweepFailed deletes failed ingestions once their retention delay passed.
func (w *Worker) sweepFailed() {
	cutoff := time.Now().Add(-w.failureRetention)

	var failed []types.IssueIngestion
	if err := w.db.Where("status = ? AND failed_at < ?", types.IngestionFailed, cutoff).Find(&failed).Error; err != nil {
		log.Printf("ingest: list failed: %v", err)
		return
	}

	for _, ingestion := range failed {
		if err := w.db.Delete(&types.IssueIngestion{}, ingestion.ID).Error; err != nil {
			log.Printf("ingest: sweep %d: %v", ingestion.ID, err)
			continue
		}
		if err := w.store.Remove(ingestion.ImageRef); err != nil {
			log.Printf("ingest: remove image %q: %v", ingestion.ImageRef, err)
		}
	}
}
