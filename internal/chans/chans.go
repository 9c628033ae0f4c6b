// Package chans names the broker channels and keys used by the transport
// layer, byte-exact per the wire contract: clients, the Worker Manager and
// every Grunt Worker must agree on these names without any further
// negotiation.
package chans

import "fmt"

// Tasks is the shared channel every client publishes task requests to,
// and the Worker Manager subscribes to.
const Tasks = "channel:tasks"

// GruntTasks returns the private channel name for the Grunt Worker
// identified by pid, derived from its OS process identifier.
func GruntTasks(pid int) string {
	return fmt.Sprintf("channel:tasks:%d", pid)
}

// Results returns the per-call result channel name for callID.
func Results(callID string) string {
	return fmt.Sprintf("channel:results:%s", callID)
}

// RetryCounter returns the broker key holding the retry count for callID.
func RetryCounter(callID string) string {
	return fmt.Sprintf("retry:%s", callID)
}
