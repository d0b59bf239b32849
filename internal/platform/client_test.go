package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := NewClient(ts.URL, "worker1:assign1", 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("::bad", "id", time.Second, nil)
	assert.Error(t, err)
	_, err = NewClient("localhost", "id", time.Second, nil)
	assert.Error(t, err)
	_, err = NewClient("http://localhost:5000", "", time.Second, nil)
	assert.Error(t, err)
}

func TestCreateAgent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agents", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "worker1:assign1", r.PostForm.Get("unique_id"))
		_, _ = io.WriteString(w, `{"agents": {"uuid": "a-1"}}`)
	})

	agent, err := c.CreateAgent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-1", agent.UUID)
}

func TestCreateAgent_Refused(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "network full", http.StatusForbidden)
	})

	_, err := c.CreateAgent(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "/agents", se.Path)
	assert.Contains(t, se.Error(), "network full")
}

func TestCreateAgent_EmptyUUID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"agents": {}}`)
	})
	_, err := c.CreateAgent(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInformationAndTransmissions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/information":
			assert.Equal(t, "a-1", r.URL.Query().Get("origin_uuid"))
			_, _ = io.WriteString(w, `{"information": [{"uuid": "i-1", "contents": "asocial", "type": "learning_gene"}]}`)
		case "/transmissions":
			assert.Equal(t, "a-1", r.URL.Query().Get("destination_uuid"))
			_, _ = io.WriteString(w, `{"transmissions": [{"uuid": "t-1", "info_uuid": "i-9"}]}`)
		case "/information/i-9":
			_, _ = io.WriteString(w, `{"uuid": "i-9", "contents": "0.35", "type": "state"}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	infos, err := c.Information(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "asocial", infos[0].Contents)

	ts, err := c.PendingTransmissions(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "i-9", ts[0].InfoUUID)

	info, err := c.Info(ctx, "i-9")
	require.NoError(t, err)
	assert.Equal(t, "0.35", info.Contents)
	assert.Equal(t, "state", info.Type)
}

func TestCreateInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/information", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "a-1", r.PostForm.Get("origin_uuid"))
		assert.Equal(t, "1", r.PostForm.Get("contents"))
		assert.Equal(t, "meme", r.PostForm.Get("info_type"))
		w.WriteHeader(http.StatusCreated)
	})
	require.NoError(t, c.CreateInfo(context.Background(), "a-1", "1", "meme"))
}

func TestSaveData(t *testing.T) {
	var (
		mu  sync.Mutex
		got Data
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/sync/worker1:assign1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status": "ok"}`)
	})

	rec := NewRecorder()
	rec.RecordTrialData(map[string]any{"phase": "trial", "choice": "blue"})
	rec.RecordUnstructuredData("comments", "none")
	require.NoError(t, c.SaveData(context.Background(), rec.Snapshot()))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, c.UniqueID(), got.UniqueID)
	assert.Equal(t, "worker1:assign1", got.UniqueID)
	require.Len(t, got.Data, 1)
	assert.Equal(t, "blue", got.Data[0].TrialData["choice"])
	assert.Equal(t, "none", got.QuestionData["comments"])
}

func TestComputeBonusAndComplete(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "worker1:assign1", r.URL.Query().Get("uniqueId"))
		_, _ = io.WriteString(w, `{"bonusComputed": "success"}`)
	})
	require.NoError(t, c.ComputeBonus(context.Background()))
	require.NoError(t, c.CompleteHIT(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/compute_bonus", "/complete"}, paths)
}

func TestBasePathIsKept(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exp/agents", r.URL.Path)
		_, _ = io.WriteString(w, `{"agents": {"uuid": "a-2"}}`)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL+"/exp", "id", time.Second, nil)
	require.NoError(t, err)
	agent, err := c.CreateAgent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-2", agent.UUID)
}

func TestDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>oops</html>`)
	})
	_, err := c.Information(context.Background(), "a-1")
	assert.ErrorContains(t, err, "failed to decode response")
}

func TestContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CreateAgent(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
