package logger_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json format by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf))
		log.Info("hello", logger.Component("test"))

		assert.Contains(t, buf.String(), `"component":"test"`)
		assert.Contains(t, buf.String(), `"msg":"hello"`)
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithFormat(logger.FormatText))
		log.Info("hello")

		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("level filtering", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelWarn))
		log.Info("dropped")
		log.Warn("kept")

		require.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("base attrs", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithAttr(slog.String("service", "certd")))
		log.Info("hello")

		assert.Contains(t, buf.String(), `"service":"certd"`)
	})
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewFromConfig(logger.Config{Level: "debug", Format: "text"}, logger.WithOutput(&buf))
	log.Debug("visible")

	assert.Contains(t, buf.String(), "visible")
}

func TestAttrHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		attr  slog.Attr
		empty bool
	}{
		{name: "error with value", attr: logger.Error(errors.New("boom")), empty: false},
		{name: "nil error", attr: logger.Error(nil), empty: true},
		{name: "errors all nil", attr: logger.Errors(nil, nil), empty: true},
		{name: "errors mixed", attr: logger.Errors(nil, errors.New("x")), empty: false},
		{name: "hostname set", attr: logger.Hostname("status.example.com"), empty: false},
		{name: "hostname empty", attr: logger.Hostname(""), empty: true},
		{name: "certificate id empty", attr: logger.CertificateID(""), empty: true},
		{name: "job id set", attr: logger.JobID("j1"), empty: false},
		{name: "status empty", attr: logger.Status(""), empty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.empty {
				assert.Equal(t, slog.Attr{}, tt.attr)
			} else {
				assert.NotEmpty(t, tt.attr.Key)
			}
		})
	}
}
