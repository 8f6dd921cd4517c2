package logger

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iurnickita/ifgmart/internal/logger/config"
)

func TestNewZapLog(t *testing.T) {
	zl, err := NewZapLog(config.Config{LogLevel: "debug"})
	require.NoError(t, err)
	assert.True(t, zl.Core().Enabled(zap.DebugLevel))

	_, err = NewZapLog(config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestRequestLogMdlw(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zaplog := zap.New(core)

	h := RequestLogMdlw(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}, zaplog)

	r := httptest.NewRequest(http.MethodPost, "/api/user/products", bytes.NewBufferString(`{"title":"kit"}`))
	w := httptest.NewRecorder()
	h(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"title":"kit"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	responses := logs.FilterMessage("send HTTP response").All()
	require.Len(t, responses, 1)
	assert.EqualValues(t, http.StatusCreated, responses[0].ContextMap()["code"])
	assert.Equal(t, w.Header().Get(HeaderRequestID), responses[0].ContextMap()["request_id"])

	requests := logs.FilterMessage("got incoming HTTP request").All()
	require.Len(t, requests, 1)
	assert.Equal(t, `{"title":"kit"}`, requests[0].ContextMap()["body"])
}

func TestRequestLogMdlwKeepsRequestID(t *testing.T) {
	h := RequestLogMdlw(func(w http.ResponseWriter, r *http.Request) {}, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	h(w, r)

	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
}
