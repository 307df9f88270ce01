package session

import "overseer/pkg/proto"

// Observer receives structured notifications about session state changes.
// Observers are for inspection only (UI refresh, journaling, metrics) and
// must not call back into the session; notifications are delivered
// synchronously from the decode loop.
type Observer interface {
	// OnStatusChange fires after the execution phase changes.
	OnStatusChange(executionID string, from, to proto.ExecutionStatus)

	// OnActionUpsert fires after an action is inserted or merged. The
	// action is a copy the observer may keep.
	OnActionUpsert(executionID string, action *proto.Action)

	// OnText fires for each streamed narration fragment.
	OnText(executionID, content string)

	// OnReasoning fires for each appended reasoning step.
	OnReasoning(executionID string, step proto.ReasoningStep)

	// OnQuestion fires when the agent suspends on a clarifying question.
	OnQuestion(executionID string, question Question)

	// OnTaskChanged fires when the remote task record changed and external
	// collaborators should reload it.
	OnTaskChanged(executionID string)

	// OnFrameDropped fires when a protocol violation or malformed payload
	// was discarded without affecting the session.
	OnFrameDropped(executionID, reason string)
}

// NopObserver is an Observer that ignores every notification. Embed it to
// implement only the notifications a component cares about.
type NopObserver struct{}

func (NopObserver) OnStatusChange(string, proto.ExecutionStatus, proto.ExecutionStatus) {}
func (NopObserver) OnActionUpsert(string, *proto.Action)                                {}
func (NopObserver) OnText(string, string)                                               {}
func (NopObserver) OnReasoning(string, proto.ReasoningStep)                             {}
func (NopObserver) OnQuestion(string, Question)                                         {}
func (NopObserver) OnTaskChanged(string)                                                {}
func (NopObserver) OnFrameDropped(string, string)                                       {}

var _ Observer = NopObserver{}

// Multi fans every notification out to each observer in order.
func Multi(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) OnStatusChange(executionID string, from, to proto.ExecutionStatus) {
	for _, o := range m {
		o.OnStatusChange(executionID, from, to)
	}
}

func (m multiObserver) OnActionUpsert(executionID string, action *proto.Action) {
	for _, o := range m {
		o.OnActionUpsert(executionID, action.Clone())
	}
}

func (m multiObserver) OnText(executionID, content string) {
	for _, o := range m {
		o.OnText(executionID, content)
	}
}

func (m multiObserver) OnReasoning(executionID string, step proto.ReasoningStep) {
	for _, o := range m {
		o.OnReasoning(executionID, step)
	}
}

func (m multiObserver) OnQuestion(executionID string, question Question) {
	for _, o := range m {
		o.OnQuestion(executionID, question)
	}
}

func (m multiObserver) OnTaskChanged(executionID string) {
	for _, o := range m {
		o.OnTaskChanged(executionID)
	}
}

func (m multiObserver) OnFrameDropped(executionID, reason string) {
	for _, o := range m {
		o.OnFrameDropped(executionID, reason)
	}
}
