/*
Package events provides in-process publish/subscribe for job lifecycle
notifications.

The broker decouples the components that produce lifecycle changes (the
producer submitting and cancelling, the runner finishing jobs, the
scheduler recovering them) from the components that want to observe them
(the event sink in the worker's log output, future notification hooks).
State of record lives in the store; events are advisory and lossy by
design.

# Architecture

	producer ──┐
	runner ────┤                       ┌──▶ subscriber (log sink)
	scheduler ─┼──▶ Publish ──────────▶┼──▶ subscriber
	worker ────┘        eventCh        └──▶ subscriber
	                  (buffer 100)        (buffer 50 each)

A single distribution goroutine fans events out to subscribers. Slow
subscribers do not block the system: when a subscriber's buffer is full
the event is skipped for that subscriber.

# Event Types

Job lifecycle:

  - job.submitted: record created and enqueued
  - job.started: container launched, status moved to running
  - job.completed: container exited 0
  - job.failed: launch error, non-zero exit, or worker restart
  - job.cancelled: producer applied the cancel protocol
  - job.recovered: worker re-attached to a live container after restart

Worker lifecycle:

  - worker.started, worker.stopped

# Usage

Publishing:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	broker.PublishJob(events.EventJobCompleted, job.ID, "exit code 0")

Subscribing:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Printf("[%s] %s %s\n", event.Timestamp, event.Type, event.JobID)
	}

# Delivery Guarantees

None. Events are best-effort: a full subscriber buffer drops the event
for that subscriber, and a stopped broker drops publishes. Anything that
must be durable belongs in the store, not here.

# See Also

  - pkg/store for the durable state the events mirror
  - cmd/stoker serve wires a logging subscriber
*/
package events
