package lg

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-logr/stdr"
	"github.com/logzio/logzio-go"
	"go.opentelemetry.io/otel"

	"github.com/sour-is/asyncevent/pkg/env"
)

// logzwriter ships each log line as a json message.
type logzwriter struct {
	build

	w io.Writer
}

func (l *logzwriter) Write(b []byte) (int, error) {
	i := 0
	for _, sp := range bytes.Split(b, []byte("\n")) {
		msg := struct {
			Message   string `json:"message"`
			Host      string `json:"host"`
			GoVersion string `json:"go_version"`
			Package   string `json:"pkg"`
			App       string `json:"app"`
		}{
			Message:   strings.TrimSpace(string(sp)),
			Host:      l.host,
			GoVersion: l.goversion,
			Package:   l.pkg,
			App:       l.app,
		}

		if msg.Message == "" || strings.HasPrefix(msg.Message, "#") {
			continue
		}

		b, err := json.Marshal(msg)
		if err != nil {
			return 0, err
		}

		j, err := l.w.Write(b)

		i += j
		if err != nil {
			return i, err
		}
	}
	return i, nil
}

func initLogger(b build) func() error {
	log.SetPrefix("[" + b.app + "] ")
	log.SetFlags(log.LstdFlags&^(log.Ldate|log.Ltime) | log.Lshortfile)
	otel.SetLogger(stdr.New(log.Default()))

	token := env.Secret("LOGZIO_LOG_TOKEN", "")
	if token.Secret() == "" {
		return nil
	}

	l, err := logzio.New(
		token.Secret(),
		logzio.SetUrl(env.Default("LOGZIO_LOG_URL", "https://listener.logz.io:8071")),
		logzio.SetDrainDuration(time.Second*5),
		logzio.SetTempDirectory(env.Default("LOGZIO_DIR", os.TempDir())),
		logzio.SetCheckDiskSpace(true),
		logzio.SetDrainDiskThreshold(70),
	)
	if err != nil {
		log.Println("logz.io disabled:", err)
		return nil
	}

	w := io.MultiWriter(os.Stderr, &logzwriter{build: b, w: l})
	log.SetOutput(w)
	otel.SetLogger(stdr.New(log.Default()))

	return func() error {
		defer log.Println("logger stopped")
		log.SetOutput(os.Stderr)
		l.Stop()
		return nil
	}
}
