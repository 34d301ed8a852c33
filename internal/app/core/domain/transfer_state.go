package domain

import "fmt"

// TransferState 單次轉帳嘗試的狀態
//
//	Initiated -> Validated -> Debited -> Credited -> Completed
//	任何 Completed 之前的狀態 -> Failed
//	Completed -> Reversed (只能透過沖正)
type TransferState uint8

const (
	StateInitiated TransferState = iota
	StateValidated
	StateDebited
	StateCredited
	StateCompleted
	StateFailed
	StateReversed
)

func (s TransferState) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateValidated:
		return "validated"
	case StateDebited:
		return "debited"
	case StateCredited:
		return "credited"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateReversed:
		return "reversed"
	default:
		return fmt.Sprintf("TransferState(%d)", uint8(s))
	}
}

// Terminal 是否為終態
func (s TransferState) Terminal() bool {
	return s == StateFailed || s == StateReversed
}

// CanTransition 回傳是否允許 s -> next
func (s TransferState) CanTransition(next TransferState) bool {
	switch next {
	case StateFailed:
		return s < StateCompleted
	case StateReversed:
		return s == StateCompleted
	case StateValidated, StateDebited, StateCredited, StateCompleted:
		return next == s+1
	default:
		return false
	}
}

// Transition 檢查並回傳新的狀態
func (s TransferState) Transition(next TransferState) (TransferState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}
