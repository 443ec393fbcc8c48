package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_runs_total",
		Help: "Dispatcher invocations (poller ticks, triggers, create kicks)",
	})
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_messages_sent_total",
		Help: "Messages confirmed sent",
	})
	messagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_messages_failed_total",
		Help: "Messages that failed their single delivery attempt",
	})
	campaignsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_campaigns_finished_total",
		Help: "Campaigns finalized by the dispatcher",
	})
	staleSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janitor_stale_messages_swept_total",
		Help: "Stuck sending rows returned to waiting by the janitor",
	})
)
