package core

// ProgressSink receives stage and progress notifications from the update
// pipeline. Implementations must be safe for concurrent use: the staging
// workers report from several goroutines.
type ProgressSink interface {
	SetStage(name string)
	// SetProgress receives the completed fraction of the current stage,
	// in [0,1]: bytes during downloads, finished tasks during preparation.
	SetProgress(value float64)
}

// Stage names reported to a ProgressSink.
const (
	StageChecking  = "checking"
	StageDownload  = "downloading"
	StageExtract   = "extracting"
	StageCopy      = "copying backups"
	StageMigrate   = "migrating backups"
	StageApply     = "applying"
	StageRestart   = "restarting"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) SetStage(string)     {}
func (NopSink) SetProgress(float64) {}

// MultiSink fans notifications out to every sink in order.
type MultiSink []ProgressSink

func (m MultiSink) SetStage(name string) {
	for _, s := range m {
		s.SetStage(name)
	}
}

func (m MultiSink) SetProgress(value float64) {
	for _, s := range m {
		s.SetProgress(value)
	}
}
