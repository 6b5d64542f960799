package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Registry is the local run history, one row per fine-tuning invocation.
type Registry struct {
	db *gorm.DB
}

// OpenRegistry opens (or creates) the registry database at path and applies
// pending migrations.
func OpenRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("error creating registry directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening registry %s: %w", path, err)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error migrating registry: %w", err)
	}

	return &Registry{db: db}, nil
}

// CreateRun inserts a queued run, encoding params as JSON for later
// inspection.
func (r *Registry) CreateRun(variant, baseModel string, params any) (uuid.UUID, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error encoding run params: %w", err)
	}

	run := Run{
		Id:           uuid.New(),
		Variant:      variant,
		BaseModel:    baseModel,
		Status:       RunQueued,
		Params:       encoded,
		CreationTime: time.Now(),
	}
	if err := r.db.Create(&run).Error; err != nil {
		return uuid.Nil, fmt.Errorf("error creating run record: %w", err)
	}
	return run.Id, nil
}

func (r *Registry) StartRun(id uuid.UUID) error {
	return r.setStatus(id, RunRunning, "")
}

func (r *Registry) CompleteRun(id uuid.UUID) error {
	return r.setStatus(id, RunCompleted, "")
}

func (r *Registry) FailRun(id uuid.UUID, reason string) error {
	return r.setStatus(id, RunFailed, reason)
}

func (r *Registry) setStatus(id uuid.UUID, status, reason string) error {
	updates := map[string]any{"status": status}
	if status == RunCompleted || status == RunFailed {
		updates["completion_time"] = sql.NullTime{Time: time.Now(), Valid: true}
	}
	if reason != "" {
		updates["error"] = sql.NullString{String: reason, Valid: true}
	}

	if err := r.db.Model(&Run{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("error updating run %s: %w", id, err)
	}
	return nil
}

// AddArtifact records an output location for a run. Re-recording the same
// kind overwrites the previous path.
func (r *Registry) AddArtifact(id uuid.UUID, kind, path string) error {
	artifact := Artifact{RunId: id, Kind: kind, Path: path}
	if err := r.db.Save(&artifact).Error; err != nil {
		return fmt.Errorf("error recording artifact %s for run %s: %w", kind, id, err)
	}
	return nil
}

func (r *Registry) GetRun(id uuid.UUID) (Run, error) {
	var run Run
	if err := r.db.Preload("Artifacts").First(&run, "id = ?", id).Error; err != nil {
		return Run{}, fmt.Errorf("error loading run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (r *Registry) ListRuns() ([]Run, error) {
	var runs []Run
	if err := r.db.Preload("Artifacts").Order("creation_time desc").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}
