package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/opst/orchestration/pkg/logging"
)

func TestNew(t *testing.T) {
	t.Run("it writes json lines at and above the level", func(t *testing.T) {
		buf := new(bytes.Buffer)
		logger, err := logging.New(logging.Config{Level: "warn"}, buf)
		if err != nil {
			t.Fatal(err)
		}

		component := logging.Component(logger, "saga")
		component.Info().Msg("hidden")
		component.Warn().Str("step", "persist").Msg("shown")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("unexpected lines: %q", lines)
		}
		doc := map[string]any{}
		if err := json.Unmarshal([]byte(lines[0]), &doc); err != nil {
			t.Fatal(err)
		}
		if doc["level"] != "warn" || doc["component"] != "saga" || doc["step"] != "persist" || doc["message"] != "shown" {
			t.Errorf("unexpected record: %v", doc)
		}
		if _, ok := doc["time"]; !ok {
			t.Errorf("no timestamp: %v", doc)
		}
	})

	t.Run("console format is human readable", func(t *testing.T) {
		buf := new(bytes.Buffer)
		logger, err := logging.New(logging.Config{Format: logging.Console}, buf)
		if err != nil {
			t.Fatal(err)
		}
		logger.Info().Msg("hello")
		if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})

	for name, config := range map[string]logging.Config{
		"unknown level":  {Level: "loud"},
		"unknown format": {Format: "xml"},
	} {
		t.Run(name+" is an error", func(t *testing.T) {
			if _, err := logging.New(config, new(bytes.Buffer)); err == nil {
				t.Error("no error")
			}
		})
	}
}
