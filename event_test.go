package asyncevent_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/sour-is/asyncevent"
)

func ptr[T any](v T) *T { return &v }

func TestInitSnapshot(t *testing.T) {
	is := is.New(t)

	e := asyncevent.Init[int, string]()
	is.True(e.IsNotStarted())
	is.True(!e.IsInProgress())
	is.True(!e.IsCompleted())
	is.True(!e.IsFailed())
	is.True(!e.HasArgument())
	is.True(!e.HasResult())
	is.NoErr(e.Err())
	is.Equal(e, asyncevent.Snapshot[int, string]{})

	is.True(asyncevent.InitEvent.IsNotStarted())
	is.Equal(asyncevent.InitEvent.ArgumentValue(), nil)
	is.Equal(asyncevent.InitEvent.ResultValue(), nil)
}

func TestPredicates(t *testing.T) {
	is := is.New(t)

	errBoom := errors.New("boom")
	e := asyncevent.NewSnapshot(asyncevent.Failed, asyncevent.Payload[int, string]{
		Argument: ptr(5),
		Err:      errBoom,
	})

	is.True(e.IsFailed())
	is.True(e.Is(asyncevent.Failed))
	is.True(!e.Is(asyncevent.Completed))
	is.Equal(e.Argument(), 5)
	is.True(errors.Is(e.Err(), errBoom))
	is.Equal(e.State(), asyncevent.Failed)
	is.Equal(e.String(), "error(argument=5, error=boom)")
}

func TestIsResultEmpty(t *testing.T) {
	is := is.New(t)

	completed := func(v any) asyncevent.Snapshot[int, any] {
		return asyncevent.NewSnapshot(asyncevent.Completed, asyncevent.Payload[int, any]{Result: &v})
	}

	is.True(asyncevent.Init[int, any]().IsResultEmpty())
	is.True(completed(nil).IsResultEmpty())
	is.True(completed(false).IsResultEmpty())
	is.True(completed([]int{}).IsResultEmpty())
	is.True(completed([]string(nil)).IsResultEmpty())
	is.True(completed([0]int{}).IsResultEmpty())
	is.True(completed((*int)(nil)).IsResultEmpty())
	is.True(completed(map[string]int(nil)).IsResultEmpty())

	is.True(!completed(0).IsResultEmpty())
	is.True(!completed(true).IsResultEmpty())
	is.True(!completed("").IsResultEmpty())
	is.True(!completed([]int{1}).IsResultEmpty())
	is.True(!completed(map[string]int{}).IsResultEmpty())

	typed := asyncevent.NewSnapshot(asyncevent.Completed, asyncevent.Payload[int, []string]{Result: &[]string{}})
	is.True(typed.IsResultEmpty())
}

func TestParseState(t *testing.T) {
	is := is.New(t)

	for name, want := range map[string]asyncevent.State{
		"init":       asyncevent.NotStarted,
		"loading":    asyncevent.InProgress,
		"processing": asyncevent.InProgress,
		"loaded":     asyncevent.Completed,
		"processed":  asyncevent.Completed,
		"error":      asyncevent.Failed,
		" Loaded ":   asyncevent.Completed,
	} {
		got, err := asyncevent.ParseState(name)
		is.NoErr(err)
		is.Equal(got, want)
	}

	_, err := asyncevent.ParseState("sleeping")
	is.True(errors.Is(err, asyncevent.ErrUnknownState))

	is.Equal(asyncevent.State(9).String(), "State(9)")
}

func TestSnapshotJSON(t *testing.T) {
	is := is.New(t)

	e := asyncevent.NewSnapshot(asyncevent.Completed, asyncevent.Payload[int, string]{
		Argument: ptr(5),
		Result:   ptr("tada5"),
	})

	b, err := json.Marshal(e)
	is.NoErr(err)
	is.Equal(string(b), `{"state":"loaded","argument":5,"result":"tada5"}`)

	var out asyncevent.Snapshot[int, string]
	is.NoErr(json.Unmarshal(b, &out))
	is.Equal(out, e)

	failed := asyncevent.NewSnapshot(asyncevent.Failed, asyncevent.Payload[int, string]{
		Argument: ptr(6),
		Err:      errors.New("promiseError"),
	})
	b, err = json.Marshal(failed)
	is.NoErr(err)
	is.Equal(string(b), `{"state":"error","argument":6,"error":"promiseError"}`)

	is.NoErr(json.Unmarshal(b, &out))
	is.True(out.IsFailed())
	is.Equal(out.Err().Error(), "promiseError")

	b, err = json.Marshal(asyncevent.Init[int, string]())
	is.NoErr(err)
	is.Equal(string(b), `{"state":"init"}`)

	is.True(json.Unmarshal([]byte(`{"state":"asleep"}`), &out) != nil)
}

func TestTypeErased(t *testing.T) {
	is := is.New(t)

	lis := []asyncevent.Event{
		asyncevent.Init[int, string](),
		asyncevent.NewSnapshot(asyncevent.InProgress, asyncevent.Payload[string, []int]{Argument: ptr("q")}),
		asyncevent.NewSnapshot(asyncevent.Completed, asyncevent.Payload[bool, float64]{Result: ptr(1.5)}),
	}

	is.True(lis[0].IsNotStarted())
	is.True(lis[1].IsInProgress())
	is.Equal(lis[1].ArgumentValue(), "q")
	is.Equal(lis[1].ResultValue(), nil)
	is.True(lis[2].IsCompleted())
	is.Equal(lis[2].ResultValue(), 1.5)
	is.True(!lis[2].IsResultEmpty())
}
