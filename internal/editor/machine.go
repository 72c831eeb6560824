package editor

import (
	"github.com/felixgeelhaar/statekit"
)

// State は編集セッションの状態です。
type State string

const (
	StateIdle    State = "idle"
	StateDrawing State = "drawing"
	StateSaving  State = "saving"
	StateClosed  State = "closed"
)

const (
	stateIdle    statekit.StateID = statekit.StateID(StateIdle)
	stateDrawing statekit.StateID = statekit.StateID(StateDrawing)
	stateSaving  statekit.StateID = statekit.StateID(StateSaving)
	stateClosed  statekit.StateID = statekit.StateID(StateClosed)
)

const (
	eventBeginDrag statekit.EventType = "BEGIN_DRAG"
	eventEndDrag   statekit.EventType = "END_DRAG"
	eventSave      statekit.EventType = "SAVE"
	eventSaved     statekit.EventType = "SAVED"
	eventClose     statekit.EventType = "CLOSE"
)

// machineContext は状態機械に渡すセッション情報です。遷移の判断には使いません。
type machineContext struct {
	SessionID string
	ItemID    string
}

// newSessionMachine は編集セッションの状態遷移を定義します。
//
//	idle --BEGIN_DRAG--> drawing --END_DRAG--> idle
//	idle|drawing --SAVE--> saving --SAVED--> closed
//	idle|drawing|saving --CLOSE--> closed
func newSessionMachine(ctx *machineContext) (*statekit.MachineConfig[*machineContext], error) {
	return statekit.NewMachine[*machineContext]("editor-session").
		WithInitial(stateIdle).
		WithContext(ctx).
		State(stateIdle).
		On(eventBeginDrag).Target(stateDrawing).
		On(eventSave).Target(stateSaving).
		On(eventClose).Target(stateClosed).
		Done().
		State(stateDrawing).
		On(eventEndDrag).Target(stateIdle).
		On(eventSave).Target(stateSaving).
		On(eventClose).Target(stateClosed).
		Done().
		State(stateSaving).
		On(eventSaved).Target(stateClosed).
		On(eventClose).Target(stateClosed).
		Done().
		State(stateClosed).
		Final().
		Done().
		Build()
}
