package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sightline/internal/pipeline"
)

func TestHandlerStreamsProgress(t *testing.T) {
	hub := NewBroadcaster(8, nil)
	defer hub.Close()
	srv := httptest.NewServer(NewHandler(hub, []string{"*"}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/12"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.HasSubscribers(12) }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(12, pipeline.ProgressEvent{VideoID: 12, FrameNumber: 5, ObjectCount: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, map[string]any{"video_id": 12.0, "frame_number": 5.0, "object_count": 2.0}, got)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !hub.HasSubscribers(12) }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsBadVideoID(t *testing.T) {
	h := NewHandler(NewBroadcaster(8, nil), nil)
	for _, path := range []string{"/ws/", "/ws/abc", "/ws/-3"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	r := httptest.NewRequest(http.MethodGet, "/ws/1", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(r))
}
