package process

import "time"

// Info is a snapshot of one live supervised process.
type Info struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Uptime returns how long the process has been running at now.
func (i Info) Uptime(now time.Time) time.Duration {
	return now.Sub(i.StartedAt)
}
