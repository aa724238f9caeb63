package kernel

import (
	"errors"
	"fmt"
)

// Errno is a syscall failure code.
type Errno int

// Syscall failure codes.
const (
	ErrUnspecified Errno = 1
	ErrBadEnv      Errno = 2
	ErrInval       Errno = 3
	ErrNoMem       Errno = 4
	ErrNoFreeEnv   Errno = 5
)

var errnoText = map[Errno]string{
	ErrUnspecified: "unspecified error",
	ErrBadEnv:      "bad environment",
	ErrInval:       "invalid parameter",
	ErrNoMem:       "out of memory",
	ErrNoFreeEnv:   "out of environments",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}

// errExit unwinds an environment that destroyed itself.
var errExit = errors.New("environment destroyed itself")

// ErrKilled is the exit status of an environment destroyed by its parent.
var ErrKilled = errors.New("destroyed by parent")

// Abort terminates the environment it is raised in. It travels as a panic
// value from the point of failure up to the scheduler, which records it as
// the environment's exit status.
type Abort struct {
	Env EnvID
	Msg string
	Err error
}

func (a *Abort) Error() string {
	msg := a.Msg
	if a.Err != nil && msg == "" {
		msg = a.Err.Error()
	} else if a.Err != nil {
		msg = msg + ": " + a.Err.Error()
	}
	if a.Env != 0 {
		return fmt.Sprintf("[%08x] %s", uint32(a.Env), msg)
	}
	return msg
}

func (a *Abort) Unwrap() error { return a.Err }

// Abortf terminates the calling environment with a formatted message.
// It does not return.
func Abortf(err error, format string, args ...any) {
	panic(&Abort{Msg: fmt.Sprintf(format, args...), Err: err})
}

// IsAbort reports whether err carries an environment abort.
func IsAbort(err error) bool {
	var a *Abort
	return errors.As(err, &a)
}
