package types

import "time"

// SessionMode identifies which command surface started the session.
type SessionMode string

// SessionStatus is the terminal status recorded when a session ends.
type SessionStatus string

const (
	SessionModeRun    SessionMode = "run"
	SessionModeManage SessionMode = "manage"
	SessionModeScan   SessionMode = "scan"
)

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusStopped   SessionStatus = "stopped"
	SessionStatusAborted   SessionStatus = "aborted"
)

// SessionRecord is the durable record of one orchestrator run. Open trades are
// not forcibly closed at session end; they persist across sessions and are
// picked up by position management on the next run.
type SessionRecord struct {
	ID        string        `yaml:"id" json:"id" csv:"id"`
	Mode      SessionMode   `yaml:"mode" json:"mode" csv:"mode"`
	Status    SessionStatus `yaml:"status" json:"status" csv:"status"`
	StartedAt time.Time     `yaml:"started_at" json:"started_at" csv:"started_at"`
	EndedAt   time.Time     `yaml:"ended_at" json:"ended_at" csv:"ended_at"`
	// ConfigSnapshot is the YAML-rendered configuration active for this session.
	ConfigSnapshot string `yaml:"config_snapshot" json:"config_snapshot" csv:"config_snapshot"`
}
