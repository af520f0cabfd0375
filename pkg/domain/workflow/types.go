package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionMode controls whether mutating tools may run at all.
type SessionMode string

const (
	ModeNormal SessionMode = "normal"
	ModeDryRun SessionMode = "dry_run"
)

// Valid reports whether m is a known mode.
func (m SessionMode) Valid() bool {
	return m == ModeNormal || m == ModeDryRun
}

// SafetyProfile controls the preview gate.
type SafetyProfile string

const (
	ProfileStrict SafetyProfile = "strict"
	ProfileDev    SafetyProfile = "dev"
)

// Valid reports whether p is a known profile.
func (p SafetyProfile) Valid() bool {
	return p == ProfileStrict || p == ProfileDev
}

// RiskLevel grades a step for the high-risk confirmation check.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Session is the conversation/goal envelope owning plans and a workspace.
type Session struct {
	ID            string
	Goal          string
	Mode          SessionMode
	SafetyProfile SafetyProfile
	Status        Status
	PlanVersion   int
	NeedsReplan   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSession allocates a session with a fresh external id.
func NewSession(goal string, mode SessionMode, profile SafetyProfile) Session {
	now := UTCNow()
	return Session{
		ID:            NewSessionID(),
		Goal:          goal,
		Mode:          mode,
		SafetyProfile: profile,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Step is a planned unit of work naming a tool.
type Step struct {
	ID         int64
	PlanID     int64
	StepKey    string
	Title      string
	ToolName   string
	Status     Status
	Risk       RiskLevel
	Inputs     map[string]any
	TimeoutSec int
}

// Plan is an ordered, versioned script of steps.
type Plan struct {
	ID        int64
	SessionID string
	Version   int
	Title     string
	Steps     []Step
}

// Run is a single execution attempt of a step.
type Run struct {
	ID            int64
	SessionID     string
	PlanID        int64
	StepID        int64
	ToolName      string
	Status        Status
	NeedsReplan   bool
	FailureReason string
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// DurationMS derives the wall-clock duration, or -1 when not finished.
func (r *Run) DurationMS() int64 {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return -1
	}
	return r.FinishedAt.Sub(*r.StartedAt).Milliseconds()
}

// Event is one append-only journal record.
type Event struct {
	ID          int64
	SessionID   string
	RunID       *int64
	EventType   string
	Summary     string
	PayloadText string
	Source      string
	UserID      string
	CreatedAt   time.Time
}

// Artifact is a persisted output of a run.
type Artifact struct {
	ID        int64
	SessionID string
	RunID     int64
	StepID    int64
	Kind      string
	Path      string
	SHA256    string
	CreatedAt time.Time
}

// ToolDescriptor describes a registry entry without its handler.
type ToolDescriptor struct {
	ToolName          string
	PermissionProfile string
	Description       string
	Enabled           bool
}

// UTCNow returns the current instant truncated to millisecond precision,
// matching what the store persists.
func UTCNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewSessionID mints an externally visible session id.
func NewSessionID() string {
	return fmt.Sprintf("session_%s", HexID(12))
}

// HexID returns n hex characters of a fresh UUID, for compact ids.
func HexID(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}
