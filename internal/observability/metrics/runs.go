// Package metrics emits run, scheduler, delivery, and retention metrics
// over a statsd sink. Emission is fire-and-forget; a nil sink disables it.
package metrics

import (
	"time"

	obserrors "github.com/hullcrest/armada/internal/observability/errors"
	"github.com/hullcrest/armada/internal/observability/statsd"
)

// Result tag values shared by counter emissions.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// RunMetric carries the dimensions of one finished run.
type RunMetric struct {
	JobType  string
	Trigger  string
	Status   string
	Duration time.Duration
	// Err, when set, adds an error_class tag from the error taxonomy.
	Err error
}

// EmitRunFinished emits the counter and duration for a terminal run.
func EmitRunFinished(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"job_type": in.JobType,
		"trigger":  in.Trigger,
		"status":   in.Status,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("run.finished", 1, tags)
	if in.Duration > 0 {
		sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}
}

// EmitDelivery emits the outcome of one notification delivery, with the
// retry count when the channel needed more than one attempt.
func EmitDelivery(sink statsd.Sink, channelKind string, ok bool, attempts int) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultError
	}
	tags := map[string]string{
		"channel_kind": channelKind,
		"result":       result,
	}
	sink.Count("notify.delivery", 1, tags)
	if attempts > 1 {
		sink.Count("notify.retries", int64(attempts-1), CloneTags(tags))
	}
}

// EmitSchedulerTick emits one tick outcome: how many schedules were acted on,
// how long the tick took, and the error class when the tick failed.
func EmitSchedulerTick(sink statsd.Sink, processed int, took time.Duration, err error) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case processed == 0:
		result = ResultNoop
	}
	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("scheduler.tick", 1, tags)
	if processed > 0 {
		sink.Count("scheduler.processed", int64(processed), CloneTags(tags))
	}
	if took > 0 {
		sink.Timing("scheduler.tick_duration", took, CloneTags(tags))
	}
	if err == nil {
		sink.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

// EmitRetention emits the outcome of one retention pass operation: stale-run
// recovery or a prune step.
func EmitRetention(sink statsd.Sink, operation string, count int64, err error) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case count == 0:
		result = ResultNoop
	}
	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("reaper.operation", 1, tags)
	if err == nil && count > 0 {
		sink.Count("reaper.rows_processed", count, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
