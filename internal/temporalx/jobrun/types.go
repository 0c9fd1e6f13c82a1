// Package jobrun is the Temporal-backed alternate execution mode for a
// JobController attempt: tpu_nanny -backend=temporal runs Arm, SetupAttempt,
// and Monitor as durable activities driven by Workflow instead of a bare
// supervisor goroutine, so a nanny restart resumes an in-flight attempt from
// Temporal's own history rather than losing it.
package jobrun

const (
	WorkflowName = "tpu_job_run"

	ActivityArm     = "tpu_job_arm"
	ActivitySetup   = "tpu_job_setup"
	ActivityMonitor = "tpu_job_monitor"
)
