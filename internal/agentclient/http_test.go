package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPClient_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createSessionResponse{SessionID: "sess-123"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	id, err := c.CreateSession(context.Background(), "my title")
	require.NoError(t, err)
	require.Equal(t, "sess-123", id)
}

func TestHTTPClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/sess-1/messages", r.URL.Path)
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "do the thing", req.Prompt)
		_ = json.NewEncoder(w).Encode(sendMessageResponse{RawOutput: "output text"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	out, err := c.SendMessage(context.Background(), "sess-1", "do the thing", "developer", nil)
	require.NoError(t, err)
	require.Equal(t, "output text", out)
}

func TestHTTPClient_SendMessage_ErrorStatusBecomesClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.SendMessage(context.Background(), "sess-1", "x", "developer", nil)
	require.Error(t, err)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, http.StatusInternalServerError, clientErr.StatusCode)
}

func TestHTTPClient_Abort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/sess-1/abort", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	require.True(t, c.Abort(context.Background(), "sess-1"))
}

func TestHTTPClient_Abort_FailureReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	require.False(t, c.Abort(context.Background(), "sess-1"))
}

func TestHTTPClient_StreamEvents_ParsesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: step_started\ndata: {\"step_id\":1}\n\n")
		fmt.Fprintf(w, "event: step_finished\ndata: {\"step_id\":1}\n\n")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)

	var mu sync.Mutex
	var events []string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.StreamEvents(ctx, func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, f.Event)
	}, 1)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"step_started", "step_finished"}, events)
}

func TestHTTPClient_StopStreaming_StopsReconnectLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)

	done := make(chan struct{})
	go func() {
		_ = c.StreamEvents(context.Background(), func(Frame) {}, 10)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	c.StopStreaming()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StreamEvents did not return after StopStreaming")
	}
}
