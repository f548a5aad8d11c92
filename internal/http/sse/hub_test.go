package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/panora77956/v3-sub000/internal/domain"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(zerolog.Nop())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func TestHubDeliversPerTopic(t *testing.T) {
	h, _ := startHub(t)
	a := h.Subscribe("batch-a")
	b := h.Subscribe("batch-b")

	h.Sink("batch-a").Emit(domain.Progress{Scene: 2, Total: 3, Message: "submitting"})

	select {
	case msg := <-a:
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg, &payload))
		require.Equal(t, "progress", payload["kind"])
		require.Equal(t, float64(2), payload["scene"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message for subscriber")
	}
	select {
	case msg := <-b:
		t.Fatalf("unexpected message on other topic: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}

	h.Unsubscribe(a, "batch-a")
	h.Publish("batch-a", []byte("x"))
	select {
	case msg := <-a:
		t.Fatalf("unsubscribed client got %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubStopsWithContext(t *testing.T) {
	h, cancel := startHub(t)
	cancel()
	<-h.Done()
	h.Publish("t", []byte("x"))
	ch := h.Subscribe("t")
	h.Unsubscribe(ch, "t")
}

func TestServeStreamsEvents(t *testing.T) {
	h, _ := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, "batch-1", []byte(`{"kind":"snapshot"}`))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var data []string
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}
	data = append(data, readData())
	h.Sink("batch-1").Emit(domain.Log{Text: "hello"})
	data = append(data, readData())

	require.Equal(t, `{"kind":"snapshot"}`, data[0])
	require.Contains(t, data[1], `"text":"hello"`)
}
