package event_test

import (
	"testing"

	"maintos/event"

	. "github.com/onsi/gomega"
)

func TestInvokeHandlers(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should collect results from interested handlers in registration order", func(t *testing.T) {
		defer func() {
			event.EventHandlers = nil
		}()
		event.EventHandlers = []event.EventHandler{
			func(e *event.EventRecord) *event.EventHandleResult {
				return nil // not interested
			},
			func(e *event.EventRecord) *event.EventHandleResult {
				return &event.EventHandleResult{Success: true, HandlerIdentifier: "first"}
			},
			func(e *event.EventRecord) *event.EventHandleResult {
				return &event.EventHandleResult{Success: false, Message: "boom", HandlerIdentifier: "second"}
			},
		}

		results := event.InvokeHandlersFunc(&event.EventRecord{
			Event: event.Event{SourceId: 100, SourceType: event.SourceTypeWorkOrder,
				EventCategory: event.EventCategoryPropertyUpdated},
		})
		Expect(len(results)).To(Equal(2))
		Expect(results[0]).To(Equal(event.EventHandleResult{Success: true, HandlerIdentifier: "first"}))
		Expect(results[1]).To(Equal(event.EventHandleResult{Success: false, Message: "boom", HandlerIdentifier: "second"}))
	})

	t.Run("should return empty results when no handler is registered", func(t *testing.T) {
		event.EventHandlers = nil
		results := event.InvokeHandlersFunc(&event.EventRecord{
			Event: event.Event{SourceId: 101, SourceType: event.SourceTypeForm,
				EventCategory: event.EventCategoryCreated},
		})
		Expect(results).To(Equal([]event.EventHandleResult{}))
	})
}
