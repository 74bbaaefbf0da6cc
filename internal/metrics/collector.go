package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/tradelink/internal/adapter"
	"github.com/rickgao/tradelink/internal/journal"
	"github.com/rickgao/tradelink/internal/model"
)

const namespace = "tradelink"

// StatsSource yields adapter statistics.
type StatsSource interface {
	Stats() adapter.Stats
}

// JournalSource yields journal statistics.
type JournalSource interface {
	Stats() journal.Stats
}

var connectionStates = []model.ConnectionState{
	model.ConnectionDisconnected,
	model.ConnectionConnecting,
	model.ConnectionConnected,
	model.ConnectionReconnecting,
	model.ConnectionFailed,
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

var (
	connState             = desc("connection", "state", "1 for the current connection state.", "state")
	connConnects          = desc("connection", "connects_total", "Sessions established.")
	connReconnects        = desc("connection", "reconnects_total", "Sessions re-established after a stream failure.")
	connReconnectAttempts = desc("connection", "reconnect_attempts_total", "Reconnect dial attempts.")
	connStreamFailures    = desc("connection", "stream_failures_total", "Unsolicited stream terminations.")

	corrBindings = desc("correlator", "bindings", "Live transaction bindings.")
	corrRebinds  = desc("correlator", "rebinds_total", "Bindings moved to a fresh transaction id.")

	dispFrames      = desc("dispatcher", "frames_total", "Frames by direction and outcome.", "kind")
	dispParseErrors = desc("dispatcher", "parse_errors_total", "Frames that failed to decode.")
	dispPanics      = desc("dispatcher", "panics_total", "Recovered handler panics.")
	dispRunning     = desc("dispatcher", "running", "1 while the read loop runs.")

	subRecords = desc("subscriptions", "records", "Subscription records by status.", "status")
	subReplays = desc("subscriptions", "replays_total", "Subscriptions re-sent after a reconnect.")

	orderRecords         = desc("orders", "records", "Order records by lifecycle.", "lifecycle")
	orderFills           = desc("orders", "fills_total", "Trades applied to orders.")
	orderDropped         = desc("orders", "dropped_events_total", "Order events that matched no order.")
	orderUnknownStatuses = desc("orders", "unknown_statuses_total", "Broker statuses the venue mapper did not know.")
	orderAdopted         = desc("orders", "adopted_total", "Orders reported by the venue and adopted locally.")
	orderEvicted         = desc("orders", "evicted_total", "Terminal orders dropped after the retention window.")
	orderAbandoned       = desc("orders", "abandoned_requests_total", "Order commands and refreshes lost with their session.")

	busObservers = desc("events", "observers", "Registered event observers.")
	busPublished = desc("events", "published_total", "Events published to observers.")
	busDropped   = desc("events", "dropped_total", "Events dropped by full observer buffers.")

	journalInserts   = desc("journal", "inserts_total", "Executions written to the journal.")
	journalConflicts = desc("journal", "conflicts_total", "Executions already present in the journal.")
	journalFlushes   = desc("journal", "flushes_total", "Journal batch flushes.")
	journalErrors    = desc("journal", "errors_total", "Failed journal batches.")
)

// Collector reads one statistics snapshot per scrape.
type Collector struct {
	src     StatsSource
	journal JournalSource
}

// NewCollector creates a Collector over src. j may be nil.
func NewCollector(src StatsSource, j JournalSource) *Collector {
	return &Collector{src: src, journal: j}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		connState, connConnects, connReconnects, connReconnectAttempts, connStreamFailures,
		corrBindings, corrRebinds,
		dispFrames, dispParseErrors, dispPanics, dispRunning,
		subRecords, subReplays,
		orderRecords, orderFills, orderDropped, orderUnknownStatuses, orderAdopted,
		orderEvicted, orderAbandoned,
		busObservers, busPublished, busDropped,
	} {
		ch <- d
	}
	if c.journal != nil {
		ch <- journalInserts
		ch <- journalConflicts
		ch <- journalFlushes
		ch <- journalErrors
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	for _, st := range connectionStates {
		ch <- gauge(connState, boolFloat(s.Connection.State == st), st.String())
	}
	ch <- counter(connConnects, s.Connection.Connects)
	ch <- counter(connReconnects, s.Connection.Reconnects)
	ch <- counter(connReconnectAttempts, s.Connection.ReconnectAttempts)
	ch <- counter(connStreamFailures, s.Connection.StreamFailures)

	ch <- gauge(corrBindings, float64(s.Correlator.Bindings))
	ch <- counter(corrRebinds, s.Correlator.Rebinds)

	d := s.Dispatcher
	ch <- counter(dispFrames, d.FramesReceived, "received")
	ch <- counter(dispFrames, d.FramesRouted, "routed")
	ch <- counter(dispFrames, d.FramesSent, "sent")
	ch <- counter(dispFrames, d.UnknownFrames, "unknown")
	ch <- counter(dispFrames, d.OrphanFrames, "orphan")
	ch <- counter(dispFrames, d.Heartbeats, "heartbeat")
	ch <- counter(dispParseErrors, d.ParseErrors)
	ch <- counter(dispPanics, d.Panics)
	ch <- gauge(dispRunning, boolFloat(d.Running))

	sub := s.Subscriptions
	ch <- gauge(subRecords, float64(sub.Live), "live")
	ch <- gauge(subRecords, float64(sub.Pending), "pending")
	ch <- gauge(subRecords, float64(sub.Failed), "failed")
	ch <- gauge(subRecords, float64(sub.Unsubscribing), "unsubscribing")
	ch <- gauge(subRecords, float64(sub.History), "history")
	ch <- counter(subReplays, sub.Replays)

	o := s.Orders
	ch <- gauge(orderRecords, float64(o.Open), "open")
	ch <- gauge(orderRecords, float64(o.Terminal), "terminal")
	ch <- counter(orderFills, o.Fills)
	ch <- counter(orderDropped, o.DroppedEvents)
	ch <- counter(orderUnknownStatuses, o.UnknownStatuses)
	ch <- counter(orderAdopted, o.Adopted)
	ch <- counter(orderEvicted, o.Evicted)
	ch <- counter(orderAbandoned, o.Abandoned)

	ch <- gauge(busObservers, float64(s.Events.Observers))
	ch <- counter(busPublished, s.Events.Published)
	ch <- counter(busDropped, s.Events.Dropped)

	if c.journal != nil {
		j := c.journal.Stats()
		ch <- counter(journalInserts, j.Inserts)
		ch <- counter(journalConflicts, j.Conflicts)
		ch <- counter(journalFlushes, j.Flushes)
		ch <- counter(journalErrors, j.Errors)
	}
}

func gauge(d *prometheus.Desc, v float64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func counter[N int64 | int](d *prometheus.Desc, v N, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
