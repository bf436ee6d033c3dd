package apply

import "os"

// Process covers the side effects that end or replace the current process.
type Process interface {
	// Exec replaces the current process image with exe.
	Exec(exe string, args []string) error
	// SpawnDetached starts script in a process that outlives this one.
	SpawnDetached(script string) error
	Exit(code int)
}

// OSProcess implements Process for the host platform.
type OSProcess struct{}

func (OSProcess) Exit(code int) {
	os.Exit(code)
}
