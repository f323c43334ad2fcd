package wal

// Execution statuses derived from WAL replay.
const (
	ReplayStatusStarted   = "started"
	ReplayStatusCompleted = "completed"
	ReplayStatusFailed    = "failed"
)

// ReplayExecutions folds a tenant's event stream into the last known status
// per execution id. Events without an execution_id (INTENT_RECEIVED happens
// before an execution id is assigned) are skipped.
func ReplayExecutions(events []Event) map[string]string {
	statuses := make(map[string]string)
	for _, ev := range events {
		execID, ok := ev.Payload["execution_id"].(string)
		if !ok || execID == "" {
			continue
		}
		switch ev.EventType {
		case EventExecutionStarted:
			statuses[execID] = ReplayStatusStarted
		case EventExecutionCompleted:
			statuses[execID] = ReplayStatusCompleted
		case EventExecutionFailed:
			statuses[execID] = ReplayStatusFailed
		}
	}
	return statuses
}

// Incomplete returns execution ids that reached EXECUTION_STARTED but no
// terminal event. These are the executions a recovery sweep must reconcile,
// e.g. persisted artifacts with no committed state reference.
func Incomplete(events []Event) []string {
	statuses := ReplayExecutions(events)
	var ids []string
	for id, status := range statuses {
		if status == ReplayStatusStarted {
			ids = append(ids, id)
		}
	}
	return ids
}
