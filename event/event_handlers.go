package event

import (
	"github.com/sirupsen/logrus"
)

// EventHandler inspects an audit record and returns nil when the record is
// not of its concern.
type EventHandler func(e *EventRecord) *EventHandleResult

type EventHandleResult struct {
	Success           bool
	Message           string
	HandlerIdentifier string
}

// EventHandlers is populated once at startup; handlers run after the
// originating transaction commits and must not assume ordering.
var EventHandlers []EventHandler

var InvokeHandlersFunc = invokeHandlers

func invokeHandlers(record *EventRecord) []EventHandleResult {
	results := []EventHandleResult{}
	for _, handle := range EventHandlers {
		r := handle(record)
		if r == nil {
			continue
		}
		results = append(results, *r)

		if r.Success {
			logrus.Infof("event on %s %d handled by %s", record.SourceType, record.SourceId, r.HandlerIdentifier)
		} else {
			logrus.Errorf("event on %s %d: handler %s failed: %s",
				record.SourceType, record.SourceId, r.HandlerIdentifier, r.Message)
		}
	}
	return results
}
