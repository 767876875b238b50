// Package events is the append-only governance event log.
//
// Every decision, warning, override, incident and escalation is written
// once as an Event. The only mutation is attaching an Outcome after the
// fact, which uses optimistic concurrency on Event.Version so two writers
// never lose each other's fields.
//
// Backends live in the storage subpackage. The recorder subpackage writes
// events asynchronously off the request path, and the retention
// subpackage prunes old events on a cron schedule.
package events
