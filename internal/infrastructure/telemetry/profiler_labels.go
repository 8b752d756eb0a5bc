package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys.
const (
	ProfilingLabelChannel   = "channel"
	ProfilingLabelSyncMode  = "sync_mode"
	ProfilingLabelTrigger   = "trigger"
	ProfilingLabelOperation = "operation"
	ProfilingLabelMethod    = "method"
	ProfilingLabelRoute     = "route"
)

// MaxLabelValueLength bounds label values to keep profile cardinality down.
const MaxLabelValueLength = 128

// highCardinalityLabels are dropped from profiling labels.
var highCardinalityLabels = map[string]bool{
	"job_id":     true,
	"run_id":     true,
	"request_id": true,
	"trace_id":   true,
	"span_id":    true,
}

// WithProfilingLabels runs fn with Pyroscope labels attached to the goroutine,
// so CPU and allocation samples can be filtered by channel in the UI.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// SyncLabels returns the standard labels for one sync run.
func SyncLabels(channelKey string, delta bool, trigger string) map[string]string {
	mode := "full"
	if delta {
		mode = "delta"
	}
	return map[string]string{
		ProfilingLabelChannel:   channelKey,
		ProfilingLabelSyncMode:  mode,
		ProfilingLabelTrigger:   trigger,
		ProfilingLabelOperation: "catalog_sync",
	}
}

// sanitizeLabels returns sorted key/value pairs without empty entries or
// high-cardinality keys; values are truncated to MaxLabelValueLength.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels)*2)
	for _, key := range keys {
		value := labels[key]
		if value == "" {
			continue
		}
		sanitizedKey := sanitizeLabelKey(key)
		if sanitizedKey == "" || highCardinalityLabels[sanitizedKey] {
			continue
		}
		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}
		pairs = append(pairs, sanitizedKey, value)
	}
	return pairs
}

// sanitizeLabelKey lowercases key and keeps only [a-z0-9_], mapping spaces and dashes to underscores.
func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	result := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			result = append(result, c)
		}
	}
	return string(result)
}
