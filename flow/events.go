package flow

import "github.com/modelflow/modelflow/observability"

// Flow event types emitted during a dispatch.
const (
	EventDispatchStart    observability.EventType = "flow.dispatch.start"
	EventHistoryLoaded    observability.EventType = "flow.history.loaded"
	EventTrimComplete     observability.EventType = "flow.trim.complete"
	EventProviderCall     observability.EventType = "flow.provider.call"
	EventProviderRetry    observability.EventType = "flow.provider.retry"
	EventAppendComplete   observability.EventType = "flow.append.complete"
	EventDispatchComplete observability.EventType = "flow.dispatch.complete"
	EventDispatchError    observability.EventType = "flow.dispatch.error"
)
