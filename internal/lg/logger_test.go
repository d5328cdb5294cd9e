package lg

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/matryer/is"
)

func TestLogzWriter(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	w := &logzwriter{build: build{app: "test", host: "box"}, w: &buf}

	_, err := w.Write([]byte("first line\n# ASYNCEVENT_HTTP = :8080\n\nsecond line\n"))
	is.NoErr(err)

	dec := json.NewDecoder(&buf)
	var lis []string
	for dec.More() {
		var msg struct {
			Message string `json:"message"`
			App     string `json:"app"`
			Host    string `json:"host"`
		}
		is.NoErr(dec.Decode(&msg))
		is.Equal(msg.App, "test")
		is.Equal(msg.Host, "box")
		lis = append(lis, msg.Message)
	}
	is.Equal(lis, []string{"first line", "second line"}) // config lines are not shipped
}

func TestBuildAttributes(t *testing.T) {
	is := is.New(t)

	b := readBuild("asyncevent")
	attrs := b.attributes()
	is.Equal(string(attrs[0].Key), "service.name")
	is.Equal(attrs[0].Value.AsString(), "asyncevent")
}
