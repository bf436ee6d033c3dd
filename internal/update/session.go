// Package update drives one self-update session from the release check to
// the restart of the new build.
package update

import (
	"spese-desktop/internal/core"
	"spese-desktop/internal/staging"
)

type State int

const (
	Idle State = iota
	Checking
	Downloading
	Preparing
	Applying
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Downloading:
		return "downloading"
	case Preparing:
		return "preparing"
	case Applying:
		return "applying"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// AppContext is the running application as seen by the updater.
type AppContext interface {
	CurrentVersion() string
	// Backups is the backup snapshot taken at startup.
	Backups() []core.Backup
	EndSession()
	RestartProcess(exe string) error
}

// Session records the progress of one update attempt.
type Session struct {
	State          State
	CurrentVersion string
	TargetVersion  string
	Release        *core.Release
	Tree           *staging.Tree
	Result         *staging.Result
	// Err is the failure reason when State is Failed.
	Err error
}

// UpToDate reports whether the session ended because no update exists.
func (s *Session) UpToDate() bool {
	return s.State == Completed && s.Release == nil
}
