package metrics

import (
	"time"

	obserrors "github.com/ibb-transit/crowdcast/internal/observability/errors"
	"github.com/ibb-transit/crowdcast/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// JobRun captures details about one scheduled job invocation for metric emission.
type JobRun struct {
	JobID    string
	Duration time.Duration
	Err      error
}

// EmitJobRun emits standardised scheduled-job lifecycle metrics.
func EmitJobRun(sink statsd.Sink, in JobRun) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	if in.Err != nil {
		result = ResultError
	}

	tags := map[string]string{
		"job_id": in.JobID,
		"result": result,
	}

	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.run", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// UpstreamCall captures details about one upstream fetch for metric emission.
type UpstreamCall struct {
	Upstream string
	Duration time.Duration
	Err      error
}

// EmitUpstreamCall emits fetch outcome metrics for the IETT, metro and weather clients.
func EmitUpstreamCall(sink statsd.Sink, in UpstreamCall) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	if in.Err != nil {
		result = ResultError
	}

	tags := map[string]string{
		"upstream": in.Upstream,
		"result":   result,
	}
	sink.Count("upstream.call", 1, tags)

	if in.Duration > 0 {
		sink.Timing("upstream.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
