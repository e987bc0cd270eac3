// Package store is the durable repository layer (C2): Postgres-backed
// key/range access for NVR configuration, capture tasks, snapshots, and
// change rows. All multi-row writes go through a transaction; the Task
// status transition uses a conditional UPDATE rather than in-memory
// locking so multiple executor instances can coexist (spec.md §9).
package store

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// NvrConfig is a camera deployment at one site.
type NvrConfig struct {
	ID            string
	SiteName      string
	Host          string
	Port          int
	User          string
	Password      string
	ExtDBHost     string
	ExtDBPort     int
	ExtDBUser     string
	ExtDBPassword string
	ExtDBName     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChannelConfig is one camera under an NvrConfig.
type ChannelConfig struct {
	ID          string
	NvrConfigID string
	ChannelCode string
	IP          string
	DisplayName string
	VendorSN    string
	TrackSpace  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ParkingSpace is a detection region expressed in the 1920x1080 reference
// frame.
type ParkingSpace struct {
	ID              string
	ChannelConfigID string
	SpaceID         string
	SpaceName       string
	X1, Y1, X2, Y2  int
}

// TaskConfig is a per-day, per-camera capture plan.
type TaskConfig struct {
	ID              string
	Date            string
	RTSPBase        string
	Channel         string
	IntervalMinutes int
	DayStartTS      int64
	DayEndTS        int64
	OperationTime   time.Time
}

// Task status values. screenshot_taken/completed are the same stored value
// (DESIGN.md open-question decision #1); "completed" is never persisted, and
// reads return the stored value screenshot_taken with no "completed" label.
const (
	TaskPending          = "pending"
	TaskPlaying          = "playing"
	TaskScreenshotTaken  = "screenshot_taken"
	TaskFailed           = "failed"
)

// Task is one capture window.
type Task struct {
	ID             string
	Date           string
	Index          int
	StartTS        int64
	EndTS          int64
	RTSPURL        string
	IP             string
	Channel        string
	Status         string
	ScreenshotPath *string
	Error          *string
	OperationTime  time.Time
}

// Snapshot is one completed capture image plus its inferred per-space
// states.
type Snapshot struct {
	ID                string
	TaskID            string
	ImagePath         string
	DetectedImagePath string
	ChangeCount       int
	DetectedAt        time.Time
}

// Tri-state occupancy values, stored as a smallint column.
type Occupancy int

const (
	OccupancyUnknown Occupancy = iota
	OccupancyFalse
	OccupancyTrue
)

// Value implements driver.Valuer.
func (o Occupancy) Value() (driver.Value, error) {
	return int64(o), nil
}

// Scan implements sql.Scanner.
func (o *Occupancy) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*o = Occupancy(v)
	case int32:
		*o = Occupancy(v)
	case int:
		*o = Occupancy(v)
	case nil:
		*o = OccupancyUnknown
	default:
		return fmt.Errorf("cannot scan %T into Occupancy", src)
	}
	return nil
}

// SpaceState is the detector output for one space within one Snapshot.
type SpaceState struct {
	ID         string
	SnapshotID string
	SpaceID    string
	Occupied   Occupancy
	Confidence *float64
}

// Change-type wire values.
const (
	ChangeArrive  = "arrive"
	ChangeLeave   = "leave"
	ChangeUnknown = "unknown"
	ChangeNone    = ""
)

// ChangeRecord is one inferred transition for one space between two
// consecutive snapshots of the same camera.
type ChangeRecord struct {
	ID                 string
	CurrentSnapshotID  string
	PreviousSnapshotID *string
	SpaceID            string
	PrevOccupied       Occupancy
	CurrOccupied       Occupancy
	ChangeType         string
	DetectionConfidence *float64
	DetectedAt         time.Time
}

// AutoRule is a recurring or one-shot scheduling rule.
type AutoRule struct {
	ID                  string
	UseToday            bool
	CustomDate          *string
	BaseRTSP            string
	Channel             string
	IntervalMinutes     int
	TriggerTime         string
	IsEnabled           bool
	ExecutionCount      int
	LastExecutedAt      *time.Time
	LastExecutionStatus string
	LastExecutionError  *string
}

const (
	AutoRuleStatusNone    = "none"
	AutoRuleStatusRunning = "running"
	AutoRuleStatusSuccess = "success"
	AutoRuleStatusFailed  = "failed"
)
