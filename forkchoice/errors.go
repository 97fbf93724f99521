package forkchoice

import "errors"

// Fork choice errors.
var (
	// ErrUnknownParent is returned when a block's parent slot has no bank
	// in the store.
	ErrUnknownParent = errors.New("forkchoice: unknown parent slot")
	// ErrDoubleApply is returned when a block is applied for a slot that
	// already has a bank in the store.
	ErrDoubleApply = errors.New("forkchoice: slot already applied")
)
