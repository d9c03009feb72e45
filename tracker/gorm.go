package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/funktionslust/goingest"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GORMTrackerConfig represents the GORMTracker config structure.
type GORMTrackerConfig struct {
	Logger logger.Interface `validate:"required"`
	// CleanupOnStart marks the batches left unfinished by a previous process run as interrupted.
	CleanupOnStart bool
	// CleanupBetweenRuns does the same between two ImportAll runs of the same process.
	CleanupBetweenRuns bool
}

// GORMTracker represents a tracker that stores the import batches inside a database supported by
// gorm like MySQL, SQLite and others. The dialect specific trackers embed it and open the client
// in their Setup.
type GORMTracker struct {
	goingest.BaseStorage
	Cfg    GORMTrackerConfig
	client *gorm.DB
	dirty  bool
}

// BeforeRun is called right before each ImportAll run in order to prepare the storage for the run.
// As for the GORMTracker, it's possible to configure the tracker to mark the unfinished batches as
// interrupted between runs by setting t.CleanupBetweenRuns to true.
func (t *GORMTracker) BeforeRun() error {
	if t.Cfg.CleanupBetweenRuns && t.dirty {
		return t.cleanup()
	}
	return nil
}

// AfterRun is called right after each ImportAll run. As for the GORMTracker, it simply marks the
// tracker as "dirty".
func (t *GORMTracker) AfterRun() error {
	t.dirty = true
	return nil
}

// Shutdown is called only once at the very end of the work with the storage. As for the GORMTracker,
// it closes the initially opened db connection.
func (t *GORMTracker) Shutdown() {
	if t.client == nil {
		return
	}
	db, _ := t.client.DB()
	if db != nil {
		db.Close()
	}
}

// NewBatch registers a new batch of the passed units.
func (t *GORMTracker) NewBatch(units []*goingest.ImportUnit) (*goingest.Batch, error) {
	processID := t.ProcessID
	b := &batch{ProcessID: &processID, Units: len(units), Started: time.Now()}
	if err := t.client.Create(b).Error; err != nil {
		return nil, fmt.Errorf("failed to create a batch: %v", err)
	}
	return b.Convert(), nil
}

// TrackResult persists the terminal result of a batch unit.
func (t *GORMTracker) TrackResult(b *goingest.Batch, result *goingest.UnitResult) error {
	dbresult, err := convertDBUnitResult(b, result)
	if err != nil {
		return err
	}
	if err := t.client.Create(&dbresult).Error; err != nil {
		return fmt.Errorf("failed to track the result of %s: %v", result.Unit.EntryPath, err)
	}
	return nil
}

// FinishBatch marks the batch as finished and stores its tally.
func (t *GORMTracker) FinishBatch(b *goingest.Batch, report *goingest.BatchReport) error {
	now := time.Now()
	if err := t.client.Model(&batch{}).Where("id = ?", b.ID).Updates(map[string]interface{}{
		"finished":  now,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"cancelled": report.Cancelled,
		"skipped":   report.Skipped,
	}).Error; err != nil {
		return fmt.Errorf("failed to finish the batch %d: %v", b.ID, err)
	}
	b.Finished = &now
	return nil
}

// TrackIssue tracks the issue.
func (t *GORMTracker) TrackIssue(issue *goingest.Issue) error {
	dbissue := convertDBIssue(issue)
	if err := t.client.Create(&dbissue).Error; err != nil {
		return err
	}
	issue.ID = uint64(dbissue.ID)
	return nil
}

// Batches returns the batches of the tracker process, the most recent first.
func (t *GORMTracker) Batches(limit int) ([]*goingest.Batch, error) {
	var batches []batch
	if err := t.client.Order("id DESC").Limit(limit).Find(&batches, "process_id = ?", t.ProcessID).Error; err != nil {
		return nil, err
	}
	converted := make([]*goingest.Batch, 0, len(batches))
	for _, b := range batches {
		converted = append(converted, b.Convert())
	}
	return converted, nil
}

// Results returns the tracked unit results of the batch in their tracking order.
func (t *GORMTracker) Results(batchID uint64) ([]*goingest.UnitResult, error) {
	var results []unitResult
	if err := t.client.Order("id").Find(&results, "batch_id = ?", batchID).Error; err != nil {
		return nil, err
	}
	converted := make([]*goingest.UnitResult, 0, len(results))
	for _, r := range results {
		c, err := r.Convert()
		if err != nil {
			return nil, err
		}
		converted = append(converted, c)
	}
	return converted, nil
}

// Issues returns the issues of the batch which haven't been handled yet.
func (t *GORMTracker) Issues(batchID uint64) ([]*goingest.Issue, error) {
	var issues []issue
	if err := t.client.Order("id").Find(&issues, "batch_id = ? AND handled IS NULL", batchID).Error; err != nil {
		return nil, err
	}
	converted := make([]*goingest.Issue, 0, len(issues))
	for _, i := range issues {
		converted = append(converted, i.Convert())
	}
	return converted, nil
}

// HandleIssue marks the issue as handled.
func (t *GORMTracker) HandleIssue(id uint64) error {
	if err := t.client.Model(&issue{}).Where("id = ?", id).Update("handled", time.Now()).Error; err != nil {
		return fmt.Errorf("failed to handle the issue %d: %v", id, err)
	}
	return nil
}

// migrate makes the tracker use the client and migrates the tracker models.
func (t *GORMTracker) migrate(db *gorm.DB) error {
	t.client = db.Session(&gorm.Session{Logger: t.Cfg.Logger})
	if err := t.client.AutoMigrate(&batch{}, &unitResult{}, &issue{}); err != nil {
		return err
	}
	if t.Cfg.CleanupOnStart {
		return t.cleanup()
	}
	return nil
}

// cleanup marks the started but not finished batches of the process as interrupted.
func (t *GORMTracker) cleanup() error {
	return t.client.Model(&batch{}).Where("finished IS NULL AND process_id = ?", t.ProcessID).Updates(map[string]interface{}{
		"finished":    time.Now(),
		"interrupted": true,
	}).Error
}

// batch is a model of goingest.Batch saved in the tracker.
type batch struct {
	gorm.Model
	ProcessID   *string `gorm:"index;not null" sql:"type:VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Units       int
	Started     time.Time  `gorm:"index"`
	Finished    *time.Time `gorm:"index"`
	Interrupted bool
	Succeeded   int
	Failed      int
	Cancelled   int
	Skipped     int
}

// Convert converts the batch to a goingest.Batch.
func (b *batch) Convert() *goingest.Batch {
	return &goingest.Batch{
		ID:        uint64(b.ID),
		ProcessID: *b.ProcessID,
		Units:     b.Units,
		Started:   b.Started,
		Finished:  b.Finished,
	}
}

// unitResult is a model of goingest.UnitResult saved in the tracker. The list fields are stored
// as JSON documents.
type unitResult struct {
	gorm.Model
	BatchID    *uint64 `gorm:"index;not null"`
	Batch      *batch  `gorm:"foreignkey:BatchID"`
	EntryPath  string  `gorm:"index" sql:"type:VARCHAR(1024) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	UsedFiles  string  `sql:"type:LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	FormatID   string
	Size       int64
	State      string `gorm:"index;not null"`
	History    string
	SessionID  string
	Digests    string `sql:"type:LONGTEXT"`
	Created    string `sql:"type:LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	PixelsRefs string `sql:"type:LONGTEXT"`
	FailedStep string
	Error      string `sql:"type:LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Started    time.Time
	Finished   time.Time
}

// Convert converts the unit result to a goingest.UnitResult.
func (r *unitResult) Convert() (*goingest.UnitResult, error) {
	result := &goingest.UnitResult{
		Unit: &goingest.ImportUnit{
			EntryPath: r.EntryPath,
			FormatID:  r.FormatID,
			Size:      r.Size,
		},
		State:      goingest.State(r.State),
		SessionID:  r.SessionID,
		FailedStep: goingest.Step(r.FailedStep),
		Started:    r.Started,
		Finished:   r.Finished,
	}
	if r.History != "" {
		for _, s := range strings.Split(r.History, ",") {
			result.History = append(result.History, goingest.State(s))
		}
	}
	fields := []struct {
		data   string
		target interface{}
	}{
		{r.UsedFiles, &result.Unit.UsedFiles},
		{r.Digests, &result.Digests},
		{r.Created, &result.Created},
		{r.PixelsRefs, &result.PixelsRefs},
	}
	for _, f := range fields {
		if f.data == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.data), f.target); err != nil {
			return nil, fmt.Errorf("failed to decode the result %d: %v", r.ID, err)
		}
	}
	if r.Error != "" {
		result.Err = errors.New(r.Error)
	}
	return result, nil
}

// convertDBUnitResult converts a goingest.UnitResult into a tracker unit result model.
func convertDBUnitResult(b *goingest.Batch, r *goingest.UnitResult) (unitResult, error) {
	batchID := b.ID
	history := make([]string, 0, len(r.History))
	for _, s := range r.History {
		history = append(history, s.String())
	}
	res := unitResult{
		BatchID:    &batchID,
		EntryPath:  r.Unit.EntryPath,
		FormatID:   r.Unit.FormatID,
		Size:       r.Unit.Size,
		State:      r.State.String(),
		History:    strings.Join(history, ","),
		SessionID:  r.SessionID,
		FailedStep: r.FailedStep.String(),
		Started:    r.Started,
		Finished:   r.Finished,
	}
	if r.Err != nil {
		res.Error = r.Err.Error()
	}
	var err error
	if res.UsedFiles, err = encodeList(r.Unit.UsedFiles); err != nil {
		return res, err
	}
	if res.Digests, err = encodeList(r.Digests); err != nil {
		return res, err
	}
	if res.PixelsRefs, err = encodeList(r.PixelsRefs); err != nil {
		return res, err
	}
	if len(r.Created) != 0 {
		d, err := json.Marshal(r.Created)
		if err != nil {
			return res, err
		}
		res.Created = string(d)
	}
	return res, nil
}

// encodeList encodes a non empty list as JSON.
func encodeList(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	d, err := json.Marshal(list)
	return string(d), err
}

// issue is a model of goingest.Issue saved in the tracker.
type issue struct {
	gorm.Model
	BatchID   *uint64 `gorm:"index"`
	Batch     *batch  `gorm:"foreignkey:BatchID"`
	EntryPath string  `sql:"type:VARCHAR(1024) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Step      *string `gorm:"index;not null" sql:"type:VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Type      *string `gorm:"index;not null" sql:"type:VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Payload   string  `sql:"type:LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Note      string  `sql:"type:LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Error     string  `sql:"type:LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"`
	Handled   *time.Time `gorm:"index"`
}

// Convert converts the issue to a goingest.Issue. The unit is represented by its entry path only.
func (i *issue) Convert() *goingest.Issue {
	converted := &goingest.Issue{
		ID:      uint64(i.ID),
		Payload: i.Payload,
		Note:    i.Note,
		Handled: i.Handled,
		Created: i.CreatedAt,
	}
	if i.BatchID != nil {
		converted.BatchID = *i.BatchID
	}
	if i.EntryPath != "" {
		converted.Unit = &goingest.ImportUnit{EntryPath: i.EntryPath}
	}
	if i.Step != nil {
		converted.Step = goingest.Step(*i.Step)
	}
	if i.Type != nil {
		converted.Type = goingest.IssueType(*i.Type)
	}
	if i.Error != "" {
		converted.Err = errors.New(i.Error)
	}
	return converted
}

// convertDBIssue converts a goingest.Issue into a tracker issue model.
func convertDBIssue(i *goingest.Issue) issue {
	var batchID *uint64
	if i.BatchID != 0 {
		batchID = &i.BatchID
	}
	var entryPath string
	if i.Unit != nil {
		entryPath = i.Unit.EntryPath
	}
	step, issueType := i.Step.String(), i.Type.String()
	if step == "" {
		step = goingest.StepOther.String()
	}
	var errMsg string
	if i.Err != nil {
		errMsg = i.Err.Error()
	}
	return issue{
		Model: gorm.Model{
			ID:        uint(i.ID),
			CreatedAt: i.Created,
		},
		BatchID:   batchID,
		EntryPath: entryPath,
		Step:      &step,
		Type:      &issueType,
		Payload:   i.Payload,
		Note:      i.Note,
		Error:     errMsg,
		Handled:   i.Handled,
	}
}
