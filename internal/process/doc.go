// Package process supervises long-running server processes keyed by id.
//
// Supervisor owns the id to process mapping:
//   - Start spawns the executable in its own session, optionally on a PTY
//   - stdout and stderr share one pipe, so lines keep their emission order
//   - every line lands in a bounded ring buffer and is published as a LogEvent
//   - exit publishes exactly one StatusChangeEvent with the exit code
//   - Stop signals the process group and forgets the handle without waiting
//
// StatsSampler periodically reads /proc for every live process and publishes
// StatsEvent values with CPU and memory usage.
//
// Processes are detached from the daemon. If the daemon restarts they keep
// running but are no longer tracked; nothing reconciles them on startup.
//
// Example:
//
//	sup := process.NewSupervisor(&process.SupervisorOptions{Bus: bus})
//	if err := sup.Start("alpha", "/srv/alpha/srcds_run", []string{"-game", "tf"}, ""); err != nil {
//	    return err
//	}
//	defer sup.StopAll()
package process
