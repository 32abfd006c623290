package observability

// Metric names. Duration histograms end in _duration_seconds so the
// provider's bucket view applies to them.
const (
	MetricNameSearchRequests     = "facepass_search_requests_total"
	MetricNameSearchDuration     = "facepass_search_duration_seconds"
	MetricNameIngestJobsEnqueued = "facepass_ingest_jobs_enqueued_total"
	MetricNameIngestOutcomes     = "facepass_ingest_outcomes_total"
	MetricNameIngestDuration     = "facepass_ingest_duration_seconds"
	MetricNameExtractorErrors    = "facepass_extractor_errors_total"
	MetricNameIngestQueueDepth   = "facepass_ingest_queue_depth"
)

// Attribute keys.
const (
	AttrOutcome = "outcome"
	AttrStatus  = "status"
	AttrReason  = "reason"
)

var (
	allowedSearchOutcomes = map[string]struct{}{
		"success": {}, "no_face": {}, "invalid": {}, "not_found": {}, "inactive": {}, "error": {},
	}
	allowedIngestStatuses = map[string]struct{}{
		"success": {}, "retry": {}, "failed_final": {}, "no_face": {}, "fatal": {}, "rejected": {},
	}
	allowedExtractorReasons = map[string]struct{}{
		"transport": {}, "status": {}, "decode": {}, "invalid_image": {}, "rate_limit": {},
	}
)

// normalize maps a label value to a bounded set for cardinality control.
func normalize(value string, allowed map[string]struct{}) string {
	if _, ok := allowed[value]; ok {
		return value
	}
	return "other"
}
