package observability

const (
	MUsecaseRequests     MetricKey = "usecase_requests_total"
	MUsecaseDuration     MetricKey = "usecase_duration_seconds"
	MHTTPRequests        MetricKey = "http_requests_total"
	MHTTPRequestDuration MetricKey = "http_request_duration_seconds"

	MDispatches             MetricKey = "dispatches_total"
	MDispatchDuration       MetricKey = "dispatch_duration_seconds"
	MDispatchedEvents       MetricKey = "dispatched_events_total"
	MConsolidatedEvents     MetricKey = "consolidated_events_total"
	MEventsAfterDelete      MetricKey = "events_after_delete_total"
	MConsumerEvents         MetricKey = "consumer_events_total"
	MConsumerFailures       MetricKey = "consumer_failures_total"
	MConsumerDuration       MetricKey = "consumer_duration_seconds"
	MSubscriptionDigestSent MetricKey = "subscription_digests_sent_total"
)
