// Package batch coordinates multi-document quality assessment: upload
// intake, per-assessment background workers, progressive job-state updates,
// snapshot checkpoints and PDF retention sweeps.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medscreen/internal/assessment"
	"medscreen/internal/config"
	"medscreen/internal/domain"
	"medscreen/internal/ident"
	"medscreen/internal/jobstore"
	"medscreen/internal/logging"
)

// allowedExtensions lists the upload types the coordinator accepts.
var allowedExtensions = map[string]bool{".pdf": true, ".txt": true}

// Upload is one file handed to CreateBatch. DocumentType selects the
// appraisal tool; unsupported types complete empty with a message.
type Upload struct {
	Filename     string
	DocumentType string
	Content      []byte
}

// Coordinator owns batches and their background workers. One worker per
// assessment; only that worker writes its assessment record.
type Coordinator struct {
	store     jobstore.Store
	snap      *jobstore.SnapshotFile
	ids       *ident.Allocator
	assessor  *assessment.Assessor
	extractor assessment.TextExtractor
	cfg       config.StorageConfig
	pdfDir    string

	wg  sync.WaitGroup
	now func() time.Time // test hook
}

// NewCoordinator wires a coordinator. pdfDir is created on first write.
func NewCoordinator(store jobstore.Store, snap *jobstore.SnapshotFile, ids *ident.Allocator,
	assessor *assessment.Assessor, extractor assessment.TextExtractor,
	cfg config.StorageConfig, pdfDir string) *Coordinator {
	return &Coordinator{
		store:     store,
		snap:      snap,
		ids:       ids,
		assessor:  assessor,
		extractor: extractor,
		cfg:       cfg,
		pdfDir:    pdfDir,
		now:       time.Now,
	}
}

// CreateBatch validates the uploads, persists the batch and its assessment
// records, and spawns one background worker per accepted file. Rejected
// files land in failed_filenames without an assessment.
func (c *Coordinator) CreateBatch(ctx context.Context, uploads []Upload) (domain.BatchJob, error) {
	if len(uploads) == 0 {
		return domain.BatchJob{}, fmt.Errorf("batch has no files")
	}

	batch := domain.BatchJob{
		BatchID:    uuid.NewString(),
		Status:     domain.BatchUploading,
		TotalFiles: len(uploads),
		CreatedAt:  c.now().UTC(),
	}

	type accepted struct {
		job  domain.AssessmentJob
		path string
		doc  string
	}
	var workers []accepted
	for _, up := range uploads {
		ext := strings.ToLower(filepath.Ext(up.Filename))
		if !allowedExtensions[ext] {
			logging.BatchWarn("rejecting %s: extension %q not allowed", up.Filename, ext)
			batch.FailedFilenames = append(batch.FailedFilenames, up.Filename)
			continue
		}
		path, err := c.saveContent(up.Content, ext)
		if err != nil {
			logging.BatchWarn("rejecting %s: %v", up.Filename, err)
			batch.FailedFilenames = append(batch.FailedFilenames, up.Filename)
			continue
		}
		job := domain.AssessmentJob{
			AssessmentID:     c.ids.Allocate(),
			Filename:         up.Filename,
			DocumentType:     up.DocumentType,
			Status:           domain.StatusUploading,
			SavedPDFFilename: filepath.Base(path),
			CreatedAt:        c.now().UTC(),
		}
		if err := c.putAssessment(ctx, job); err != nil {
			return domain.BatchJob{}, err
		}
		batch.AssessmentIDs = append(batch.AssessmentIDs, job.AssessmentID)
		workers = append(workers, accepted{job: job, path: path, doc: up.DocumentType})
	}

	if len(workers) > 0 {
		batch.Status = domain.BatchProcessing
	} else {
		batch.Status = domain.BatchCompleted
	}
	if err := c.putBatch(ctx, batch); err != nil {
		return domain.BatchJob{}, err
	}
	logging.Batch("batch %s: %d accepted, %d rejected", batch.BatchID, len(workers), len(batch.FailedFilenames))

	for _, w := range workers {
		w := w
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runAssessment(context.WithoutCancel(ctx), batch.BatchID, w.job, w.path)
		}()
	}
	return batch, nil
}

// Wait blocks until every spawned worker has finished. CLI runs call this
// before exiting.
func (c *Coordinator) Wait() { c.wg.Wait() }

// saveContent writes an upload to a content-addressed path: identical
// bytes share one file.
func (c *Coordinator) saveContent(content []byte, ext string) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("file is empty")
	}
	if err := os.MkdirAll(c.pdfDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	sum := sha256.Sum256(content)
	path := filepath.Join(c.pdfDir, hex.EncodeToString(sum[:])+ext)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return path, nil
}

// runAssessment is the worker: it walks the job through the status machine,
// persisting after every transition so observers can poll.
func (c *Coordinator) runAssessment(ctx context.Context, batchID string, job domain.AssessmentJob, path string) {
	fail := func(msg string, err error) {
		logging.BatchWarn("assessment %s: %s: %v", job.AssessmentID, msg, err)
		job.Status = domain.StatusError
		job.Message = fmt.Sprintf("%s: %v", msg, err)
		c.finishAssessment(ctx, batchID, job)
	}

	job.Status = domain.StatusPendingExtraction
	if err := c.putAssessment(ctx, job); err != nil {
		fail("failed to persist extraction state", err)
		return
	}

	text, err := c.extractor.Extract(ctx, path)
	if err != nil {
		fail("text extraction failed", err)
		return
	}
	job.RawText = text

	job.Status = domain.StatusProcessing
	if tool, ok := assessment.ToolFor(job.DocumentType); ok {
		job.Progress = domain.Progress{Total: len(tool.Criteria)}
	}
	if err := c.putAssessment(ctx, job); err != nil {
		fail("failed to persist processing state", err)
		return
	}

	result, err := c.assessor.Assess(ctx, job.DocumentType, text, func(done, total int) {
		c.recordProgress(ctx, job.AssessmentID, done, total)
	})
	if err != nil {
		fail("assessment failed", err)
		return
	}

	job.AssessmentDetails = result.Details
	job.SummaryTotal = result.Total
	job.SummaryNegative = result.Negative
	job.Progress = domain.Progress{Current: result.Total, Total: result.Total}
	job.Message = result.Message
	job.Status = domain.StatusCompleted
	c.finishAssessment(ctx, batchID, job)
}

// recordProgress bumps progress.current, never lowering it: updates may
// arrive out of order relative to true completion order.
func (c *Coordinator) recordProgress(ctx context.Context, assessmentID string, done, total int) {
	err := c.store.Update(ctx, jobstore.AssessmentKey(assessmentID), c.cfg.AssessmentTTL(), func(current []byte) ([]byte, error) {
		var j domain.AssessmentJob
		if err := json.Unmarshal(current, &j); err != nil {
			return nil, err
		}
		if done > j.Progress.Current {
			j.Progress.Current = done
		}
		j.Progress.Total = total
		return json.Marshal(j)
	})
	if err != nil {
		logging.BatchWarn("assessment %s: progress update failed: %v", assessmentID, err)
	}
}

// finishAssessment persists a terminal state, checkpoints the snapshot and
// folds the outcome into the owning batch.
func (c *Coordinator) finishAssessment(ctx context.Context, batchID string, job domain.AssessmentJob) {
	// RawText is working state, not worth a permanent record.
	job.RawText = ""
	if err := c.putAssessment(ctx, job); err != nil {
		logging.BatchError("assessment %s: terminal persist failed: %v", job.AssessmentID, err)
	}
	if err := c.snap.Update(func(snap *jobstore.Snapshot) error {
		snap.Assessments[job.AssessmentID] = job
		return nil
	}); err != nil {
		logging.BatchError("assessment %s: snapshot checkpoint failed: %v", job.AssessmentID, err)
	}
	c.completeInBatch(ctx, batchID, job)
}

// completeInBatch records the assessment outcome on the batch and marks
// the batch completed once every owned assessment is terminal.
func (c *Coordinator) completeInBatch(ctx context.Context, batchID string, job domain.AssessmentJob) {
	err := c.store.Update(ctx, jobstore.BatchKey(batchID), c.cfg.BatchTTL(), func(current []byte) ([]byte, error) {
		var b domain.BatchJob
		if err := json.Unmarshal(current, &b); err != nil {
			return nil, err
		}
		if job.Status == domain.StatusCompleted {
			b.SuccessfulFilenames = append(b.SuccessfulFilenames, job.Filename)
		} else {
			b.FailedFilenames = append(b.FailedFilenames, job.Filename)
		}
		if len(b.SuccessfulFilenames)+len(b.FailedFilenames) >= b.TotalFiles {
			b.Status = domain.BatchCompleted
		}
		return json.Marshal(b)
	})
	if err != nil {
		logging.BatchError("batch %s: completion update failed: %v", batchID, err)
	}
}

// putAssessment persists an assessment record, retrying once on a storage
// failure before surfacing it.
func (c *Coordinator) putAssessment(ctx context.Context, job domain.AssessmentJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode assessment %s: %w", job.AssessmentID, err)
	}
	key := jobstore.AssessmentKey(job.AssessmentID)
	if err := c.store.Put(ctx, key, raw, c.cfg.AssessmentTTL()); err != nil {
		logging.StoreWarn("put %s failed, retrying once: %v", key, err)
		if err := c.store.Put(ctx, key, raw, c.cfg.AssessmentTTL()); err != nil {
			return fmt.Errorf("failed to persist assessment %s: %w", job.AssessmentID, err)
		}
	}
	return nil
}

func (c *Coordinator) putBatch(ctx context.Context, batch domain.BatchJob) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", batch.BatchID, err)
	}
	if err := c.store.Put(ctx, jobstore.BatchKey(batch.BatchID), raw, c.cfg.BatchTTL()); err != nil {
		return fmt.Errorf("failed to persist batch %s: %w", batch.BatchID, err)
	}
	return nil
}

// Assessment reads one assessment record.
func (c *Coordinator) Assessment(ctx context.Context, id string) (domain.AssessmentJob, error) {
	raw, err := c.store.Get(ctx, jobstore.AssessmentKey(id))
	if err != nil {
		return domain.AssessmentJob{}, err
	}
	var job domain.AssessmentJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.AssessmentJob{}, fmt.Errorf("failed to decode assessment %s: %w", id, err)
	}
	return job, nil
}

// Batch reads one batch record.
func (c *Coordinator) Batch(ctx context.Context, id string) (domain.BatchJob, error) {
	raw, err := c.store.Get(ctx, jobstore.BatchKey(id))
	if err != nil {
		return domain.BatchJob{}, err
	}
	var batch domain.BatchJob
	if err := json.Unmarshal(raw, &batch); err != nil {
		return domain.BatchJob{}, fmt.Errorf("failed to decode batch %s: %w", id, err)
	}
	return batch, nil
}

// BatchAssessments fetches a batch's assessments in one round trip.
func (c *Coordinator) BatchAssessments(ctx context.Context, batch domain.BatchJob) ([]domain.AssessmentJob, error) {
	keys := make([]string, len(batch.AssessmentIDs))
	for i, id := range batch.AssessmentIDs {
		keys[i] = jobstore.AssessmentKey(id)
	}
	values, err := c.store.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.AssessmentJob, 0, len(batch.AssessmentIDs))
	for _, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		var job domain.AssessmentJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SweepPDFs deletes stored uploads older than the configured retention.
// Assessment records are never touched by the sweep.
func (c *Coordinator) SweepPDFs(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.pdfDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan upload directory: %w", err)
	}
	cutoff := c.now().Add(-c.cfg.PDFRetention())
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.pdfDir, entry.Name())); err != nil {
			logging.BatchWarn("sweep: failed to remove %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logging.Batch("sweep removed %d stored files", removed)
	}
	return removed, nil
}

// RunSweeper sweeps on a ticker until ctx is cancelled. Long-running
// deployments start this once at boot.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.SweepPDFs(ctx); err != nil {
				logging.BatchWarn("periodic sweep failed: %v", err)
			}
		}
	}
}

// Recover marks assessments the snapshot shows as in-flight as errored.
// Their workers died with the previous process; the records must not
// stay pending forever.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	recovered := 0
	err := c.snap.Update(func(snap *jobstore.Snapshot) error {
		for id, job := range snap.Assessments {
			if job.Status.Terminal() {
				continue
			}
			job.Status = domain.StatusError
			job.Message = "process restarted while the assessment was in flight"
			snap.Assessments[id] = job
			if err := c.putAssessment(ctx, job); err != nil {
				logging.StoreWarn("recover: failed to mirror %s to store: %v", id, err)
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover from snapshot: %w", err)
	}
	if recovered > 0 {
		logging.Batch("recovered %d in-flight assessments as errored", recovered)
	}
	return recovered, nil
}
