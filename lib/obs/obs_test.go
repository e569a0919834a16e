package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlog(t *testing.T) {
	var buf bytes.Buffer
	o := FromSlog(slog.New(slog.NewJSONHandler(&buf, nil)))

	o.Failure(context.Background(), "closing sink", errors.New("no space left"), slog.String("op", "close"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "closing sink", record["msg"])
	assert.Equal(t, "no space left", record["error"])
	assert.Equal(t, "close", record["op"])
}

func TestFromSlogNil(t *testing.T) {
	assert.NotPanics(t, func() {
		FromSlog(nil).Failure(context.Background(), "ignored", errors.New("x"))
	})
}

func TestFromLogrus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	o := FromLogrus(logger)

	failure := errors.New("no space left")
	o.Failure(context.Background(), "closing sink", failure, slog.String("op", "close"))

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, log.ErrorLevel, entry.Level)
	assert.Equal(t, "closing sink", entry.Message)
	assert.Equal(t, failure, entry.Data[log.ErrorKey])
	assert.Equal(t, "close", entry.Data["op"])
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Failure(context.Background(), "ignored", errors.New("x"))
	})
}
