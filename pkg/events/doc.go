/*
Package events provides an in-memory event broker for the dispatch
platform's pub/sub messaging.

The broker broadcasts job and worker lifecycle events to interested
subscribers, decoupling the scheduler and dispatcher API from whatever
consumes those events — today, the /admin/events SSE stream.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → eventCh (buffer: 100) → broadcast loop       │
	│                                           │                │
	│                      ┌────────────────────┼───────────┐   │
	│                      ▼                    ▼           ▼   │
	│              Subscriber (50)      Subscriber (50)  ...    │
	└────────────────────────────────────────────────────────┘

Publish hands the event to the 100-slot eventCh and waits only while that
buffer is full (it returns at once after Stop). The broadcast loop never
blocks on a subscriber: a full subscriber buffer is skipped, trading
guaranteed delivery for throughput — acceptable here since events are an
observability aid, not the system of record (the registry is).

# Event Catalog

  - job.created, job.assigned, job.running, job.completed, job.failed, job.cancelled
  - worker.registered, worker.offline, worker.unhealthy, worker.recovered

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Println(event.Type, event.JobID, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:  events.EventJobAssigned,
		JobID: "job-123",
		WorkerID: "worker-1",
	})

# Integration Points

  - pkg/scheduler: publishes job/worker lifecycle events as it runs
  - pkg/dispatcher: exposes subscriptions over SSE at /admin/events
*/
package events
