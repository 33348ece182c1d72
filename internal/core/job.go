package core

// Job represents a named unit of work inside a pipeline
type Job struct {
	Name      string   `yaml:"-" toml:"-"`                                        // Job name, key in Pipeline.Jobs
	Steps     []string `yaml:"steps" toml:"steps"`                                // Shell command lines, run in order
	DependsOn []string `yaml:"depends_on,omitempty" toml:"depends_on,omitempty"` // Jobs that must succeed first
}

// JobState is the runtime state of a job inside one run.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Finished reports whether the job reached a terminal state, regardless of outcome.
func (s JobState) Finished() bool {
	return s == JobSucceeded || s == JobFailed
}

// DependenciesSatisfied reports whether every dependency of job is in completed.
// A job without dependencies is always satisfied.
func DependenciesSatisfied(job Job, completed map[string]bool) bool {
	for _, dep := range job.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}
