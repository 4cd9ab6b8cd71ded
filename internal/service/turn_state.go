package service

import (
	"context"
	"fmt"

	"chat-relay-go/pkg/log"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
)

type turnState string

const (
	stateIdle                   turnState = "Idle"
	stateValidating             turnState = "Validating"
	stateRejected               turnState = "Rejected"
	statePersistingUserMsg      turnState = "PersistingUserMsg"
	stateStreamingUpstream      turnState = "StreamingUpstream"
	stateEmittingChunks         turnState = "EmittingChunks"
	statePersistingAssistantMsg turnState = "PersistingAssistantMsg"
	stateEnded                  turnState = "Ended"
	stateError                  turnState = "Error"
)

type turnTrigger string

const (
	triggerReceive            turnTrigger = "Receive"
	triggerReject             turnTrigger = "Reject"
	triggerAccept             turnTrigger = "Accept"
	triggerUserPersisted      turnTrigger = "UserPersisted"
	triggerChunk              turnTrigger = "Chunk"
	triggerUpstreamDone       turnTrigger = "UpstreamDone"
	triggerAssistantPersisted turnTrigger = "AssistantPersisted"
	triggerFail               turnTrigger = "Fail"
)

// turnMachine 记录一次对话轮次所处的阶段，非法的状态转换以 error 返回。
type turnMachine struct {
	id string
	sm *stateless.StateMachine
}

func newTurnMachine() *turnMachine {
	t := &turnMachine{id: uuid.NewString(), sm: stateless.NewStateMachine(stateIdle)}

	t.sm.Configure(stateIdle).
		Permit(triggerReceive, stateValidating)

	t.sm.Configure(stateValidating).
		Permit(triggerReject, stateRejected).
		Permit(triggerAccept, statePersistingUserMsg)

	t.sm.Configure(statePersistingUserMsg).
		Permit(triggerUserPersisted, stateStreamingUpstream).
		Permit(triggerFail, stateError)

	t.sm.Configure(stateStreamingUpstream).
		Permit(triggerChunk, stateEmittingChunks).
		Permit(triggerUpstreamDone, statePersistingAssistantMsg).
		Permit(triggerFail, stateError)

	// 子状态继承 StreamingUpstream 的 UpstreamDone 与 Fail
	t.sm.Configure(stateEmittingChunks).
		SubstateOf(stateStreamingUpstream).
		PermitReentry(triggerChunk)

	t.sm.Configure(statePersistingAssistantMsg).
		Permit(triggerAssistantPersisted, stateEnded).
		Permit(triggerFail, stateError)

	t.sm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		if tr.Source != tr.Destination {
			log.Debugf("turn %s: %v -> %v (%v)", t.id, tr.Source, tr.Destination, tr.Trigger)
		}
	})
	return t
}

func (t *turnMachine) fire(trigger turnTrigger) error {
	if err := t.sm.Fire(trigger); err != nil {
		return fmt.Errorf("turn %s: %w", t.id, err)
	}
	return nil
}

func (t *turnMachine) state() turnState {
	return t.sm.MustState().(turnState)
}

// inStream 报告是否处于 StreamingUpstream（含子状态）。
func (t *turnMachine) inStream() bool {
	ok, err := t.sm.IsInState(stateStreamingUpstream)
	return err == nil && ok
}
