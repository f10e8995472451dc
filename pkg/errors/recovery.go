package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic turns a recovered panic value into a fatal *Error carrying the stack.
func RecoverPanic(r interface{}) error {
	return recoverAs(r, ErrInternal)
}

// RecoverStagePanic is RecoverPanic for stage boundaries: the result is a STAGE_LOGIC_ERROR.
func RecoverStagePanic(stage string, r interface{}) error {
	if r == nil {
		return nil
	}
	return recoverAs(r, ErrStageLogic.WithDetail("stage", stage))
}

func recoverAs(r interface{}, base *Error) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return base.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
