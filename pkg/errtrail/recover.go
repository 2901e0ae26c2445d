// recover.go provides the Recover helper for panic capture in HTTP handlers,
// goroutines, and other code outside the pipeline.

package errtrail

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Recover captures a panic, records it through the pipeline as an unhandled
// fatal event, and returns the recovered value. It does not re-panic.
//
// Use in defer:
//
//	func handler(ctx context.Context) {
//	    defer errtrail.Recover(ctx, p)
//	    // code that might panic
//	}
//
// Or to convert the panic into an error:
//
//	defer func() {
//	    if r := errtrail.Recover(ctx, p); r != nil {
//	        err = fmt.Errorf("panic: %v", r)
//	    }
//	}()
func Recover(ctx context.Context, p *Pipeline) any {
	r := recover()
	if r == nil {
		return nil
	}

	handled := false
	lvl := LevelFatal
	cap := &Capture{
		Level:   &lvl,
		Handled: &handled,
		Source:  SourcePanic,
		Context: map[string]any{"panic_stack": string(debug.Stack())},
	}

	// Never let capture failures affect the caller.
	_, _ = p.CaptureError(ctx, formatPanic(r), cap)
	return r
}

func formatPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
