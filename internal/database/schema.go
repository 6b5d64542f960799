package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued    string = "QUEUED"
	RunRunning   string = "RUNNING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
)

// Run records one fine-tuning invocation. Params holds the JSON-encoded run
// configuration so past runs can be reproduced.
type Run struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Variant   string `gorm:"size:20;not null"` // "lora" or "sft"
	BaseModel string `gorm:"not null"`
	Status    string `gorm:"size:20;not null"`

	Params datatypes.JSON

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Error sql.NullString

	Artifacts []Artifact `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

// Artifact kinds.
const (
	ArtifactAdapters = "adapters"
	ArtifactFused    = "fused_model"
	ArtifactFinal    = "final_model"
	ArtifactGGUF     = "gguf"
)

type Artifact struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind  string    `gorm:"primaryKey"`
	Path  string    `gorm:"not null"`
}
