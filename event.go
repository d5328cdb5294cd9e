// package asyncevent models the lifecycle of an asynchronous operation as a
// stream of immutable snapshots.
//
// A Subject is owned by a service and drives itself from a Deferred
// computation or a Stream source. Consumers receive the read only Observable
// and render from the latest Snapshot:
//
//	users := asyncevent.New[int, *User]()
//	users.Execute(ctx, 42, fetchUser)
//
//	sub, _ := users.Observable().Subscribe(ctx)
//	for e, ok := sub.Recv(ctx); ok; e, ok = sub.Recv(ctx) {
//		switch {
//		case e.IsInProgress():
//			spinner()
//		case e.IsCompleted():
//			render(e.Result())
//		case e.IsFailed():
//			alert(e.Err())
//		}
//	}
package asyncevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// State is the lifecycle tag of a Snapshot.
type State uint8

const (
	NotStarted State = iota
	InProgress
	Completed
	Failed
)

var stateNames = [...]string{
	NotStarted: "init",
	InProgress: "loading",
	Completed:  "loaded",
	Failed:     "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ParseState accepts init/loading/loaded/error as well as
// init/processing/processed/error.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "init", "notstarted":
		return NotStarted, nil
	case "loading", "processing", "inprogress":
		return InProgress, nil
	case "loaded", "processed", "completed":
		return Completed, nil
	case "error", "failed":
		return Failed, nil
	}
	return NotStarted, fmt.Errorf("%w: %q", ErrUnknownState, s)
}

func (s State) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, s)
	}
	return []byte(s.String()), nil
}
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var ErrUnknownState = errors.New("unknown state")

// Event is the type erased view of a Snapshot.
type Event interface {
	State() State
	Is(State) bool
	IsNotStarted() bool
	IsInProgress() bool
	IsCompleted() bool
	IsFailed() bool
	IsResultEmpty() bool

	ArgumentValue() any
	ResultValue() any
	Err() error
}

// InitEvent is the shared NotStarted snapshot for type erased consumers.
var InitEvent Event = Init[any, any]()

// Snapshot is one point in the lifecycle of an operation. The zero value is
// the NotStarted snapshot.
type Snapshot[A, R any] struct {
	state State

	argument    A
	hasArgument bool

	result    R
	hasResult bool

	err error
}

var _ Event = Snapshot[int, int]{}

// Init returns the NotStarted snapshot without argument, result or error.
func Init[A, R any]() Snapshot[A, R] {
	return Snapshot[A, R]{}
}

// Payload carries the optional parts of a Snapshot. Nil pointers are absent.
type Payload[A, R any] struct {
	Argument *A
	Result   *R
	Err      error
}

func NewSnapshot[A, R any](state State, p Payload[A, R]) Snapshot[A, R] {
	e := Snapshot[A, R]{state: state, err: p.Err}
	if p.Argument != nil {
		e.argument, e.hasArgument = *p.Argument, true
	}
	if p.Result != nil {
		e.result, e.hasResult = *p.Result, true
	}
	return e
}

func (e Snapshot[A, R]) State() State       { return e.state }
func (e Snapshot[A, R]) Is(s State) bool    { return e.state == s }
func (e Snapshot[A, R]) IsNotStarted() bool { return e.Is(NotStarted) }
func (e Snapshot[A, R]) IsInProgress() bool { return e.Is(InProgress) }
func (e Snapshot[A, R]) IsCompleted() bool  { return e.Is(Completed) }
func (e Snapshot[A, R]) IsFailed() bool     { return e.Is(Failed) }

func (e Snapshot[A, R]) Argument() A       { return e.argument }
func (e Snapshot[A, R]) HasArgument() bool { return e.hasArgument }
func (e Snapshot[A, R]) Result() R         { return e.result }
func (e Snapshot[A, R]) HasResult() bool   { return e.hasResult }
func (e Snapshot[A, R]) Err() error        { return e.err }

func (e Snapshot[A, R]) ArgumentValue() any {
	if !e.hasArgument {
		return nil
	}
	return e.argument
}
func (e Snapshot[A, R]) ResultValue() any {
	if !e.hasResult {
		return nil
	}
	return e.result
}

// IsResultEmpty reports whether there is nothing to show: no result, a nil
// result, false, or a zero length slice or array. Only sequences are checked
// for length, so "" and an empty non-nil map are not empty while a nil map is.
func (e Snapshot[A, R]) IsResultEmpty() bool {
	if !e.hasResult {
		return true
	}
	return isEmpty(any(e.result))
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Slice:
		return rv.IsNil() || rv.Len() == 0
	case reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

func (e Snapshot[A, R]) String() string {
	var parts []string
	if e.hasArgument {
		parts = append(parts, fmt.Sprintf("argument=%v", e.argument))
	}
	if e.hasResult {
		parts = append(parts, fmt.Sprintf("result=%v", e.result))
	}
	if e.err != nil {
		parts = append(parts, "error="+e.err.Error())
	}
	return e.state.String() + "(" + strings.Join(parts, ", ") + ")"
}

type snapshotJSON[A, R any] struct {
	State    State  `json:"state"`
	Argument *A     `json:"argument,omitempty"`
	Result   *R     `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (e Snapshot[A, R]) MarshalJSON() ([]byte, error) {
	out := snapshotJSON[A, R]{State: e.state}
	if e.hasArgument {
		out.Argument = &e.argument
	}
	if e.hasResult {
		out.Result = &e.result
	}
	if e.err != nil {
		out.Error = e.err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON. The error message
// is restored as a plain error.
func (e *Snapshot[A, R]) UnmarshalJSON(b []byte) error {
	var in snapshotJSON[A, R]
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	p := Payload[A, R]{Argument: in.Argument, Result: in.Result}
	if in.Error != "" {
		p.Err = errors.New(in.Error)
	}
	*e = NewSnapshot(in.State, p)
	return nil
}
