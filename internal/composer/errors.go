package composer

import (
	"fmt"

	"grimm.is/switchyard/internal/listener"
)

// Kind classifies why a listener group failed to start.
type Kind string

const (
	// KindBind means the socket could not be opened.
	KindBind Kind = "bind"
	// KindModule means the listener's module could not be resolved.
	KindModule Kind = "module"
)

// GroupError reports one listener that failed to start. The listener's group
// is considered failed; other groups are unaffected.
type GroupError struct {
	Group    listener.Group
	Listener string
	Addr     string
	Kind     Kind
	Err      error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%s group: listener %s (%s): %s failure: %v", e.Group, e.Listener, e.Addr, e.Kind, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}
