package channel_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_Send(t *testing.T) {
	var got channel.Outbound
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := channel.NewHTTP(srv.URL, channel.WithHeader("Authorization", "Bearer t"))
	require.NoError(t, ch.Send(context.Background(), "+5511912345678", "Olá"))
	assert.Equal(t, channel.Outbound{To: "+5511912345678", Text: "Olá"}, got)
	assert.Equal(t, "Bearer t", auth)
}

func TestHTTP_SendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := channel.NewHTTP(srv.URL).Send(context.Background(), "a", "b")
	assert.ErrorContains(t, err, "502")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = channel.NewHTTP(srv.URL+"/slow").Send(ctx, "a", "b")
	assert.Error(t, err)
}

func TestLog_Send(t *testing.T) {
	var buf bytes.Buffer
	ch := channel.NewLog(logging.NewWriter(&buf, slog.LevelInfo, logging.FormatText))
	require.NoError(t, ch.Send(context.Background(), "addr", "hello"))
	assert.Contains(t, buf.String(), "to=addr")
	assert.Contains(t, buf.String(), "text=hello")

	assert.NoError(t, channel.NewLog(nil).Send(context.Background(), "a", "b"))
}
