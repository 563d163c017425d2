package aggregate

import (
	"fmt"
	"runtime/debug"

	"github.com/bryannaegele/maestro/pkg/domain"
)

// recoverFault converts a panic inside the current operation into a
// HandlerFault, capturing the stack trace. It is deferred once per actor
// turn in Instance.handle, the single point where a user handler's Eval or
// Apply runs on the actor's own goroutine — keeping the actor alive with
// whatever state it had before the panic, since state is only reassigned
// after a successful append or fold.
func recoverFault(err *error) {
	if r := recover(); r != nil {
		*err = domain.HandlerFault(domain.KindHandlerFault, fmt.Sprintf("%v", r), string(debug.Stack()))
	}
}
