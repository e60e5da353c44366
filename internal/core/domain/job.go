package domain

// JobState is the process-wide state of the background import job.
type JobState string

const (
	JobStateStopped JobState = "STOPPED"
	JobStateStarted JobState = "STARTED"
)
