package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"skytalk/internal/api"
	"skytalk/internal/auth"
	"skytalk/internal/models"

	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	adminAddr := "127.0.0.1:8888"
	apiAddr := "127.0.0.1:8887"

	t.Setenv("SKYTALK_DB", filepath.Join(dir, "integration_test.db"))
	t.Setenv("STORE_BACKEND", "bbolt")
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("HEARTBEAT_INTERVAL", "1s")
	t.Setenv("STALENESS_WINDOW", "5s")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()
	defer func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	}()

	apiURL := "http://" + apiAddr
	waitForServer(t, apiURL+"/api/rooms", 20)

	client := &http.Client{Timeout: 5 * time.Second}
	do := func(method, url, user, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
		require.NoError(t, err)
		if user != "" {
			req.Header.Set(auth.HeaderUserID, user)
			req.Header.Set(auth.HeaderUserName, "User "+user)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	// Step 1: Rooms are listed
	resp := do(http.MethodGet, apiURL+"/api/rooms", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var roomViews []api.RoomView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roomViews))
	require.NotEmpty(t, roomViews)

	// Step 2: Send two messages
	var sent []models.Message
	for _, text := range []string{"Trời mưa to quá", "Mang ô nhé"} {
		resp = do(http.MethodPost, apiURL+"/api/rooms/hanoi/messages", "u1", fmt.Sprintf(`{"content":%q}`, text))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var msg models.Message
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
		sent = append(sent, msg)
	}
	require.Less(t, sent[0].ID, sent[1].ID)

	// Step 3: Blank messages are rejected
	resp = do(http.MethodPost, apiURL+"/api/rooms/hanoi/messages", "u1", `{"content":"  "}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Step 4: Other users cannot delete, the author can
	ownURL := fmt.Sprintf("%s/api/rooms/hanoi/messages/%d", apiURL, sent[0].ID)
	resp = do(http.MethodDelete, ownURL, "u2", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = do(http.MethodDelete, ownURL, "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 5: Moderator delete through the CLI command
	require.NoError(t, run(context.Background(), []string{"-delete-message", "hanoi:" + strconv.FormatInt(sent[1].ID, 10)}))

	resp = do(http.MethodGet, apiURL+"/api/rooms/hanoi/messages", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var remaining []api.MessageView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&remaining))
	require.Empty(t, remaining)

	// Step 6: Presence heartbeat and leave
	resp = do(http.MethodPost, apiURL+"/api/rooms/hanoi/presence", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodGet, apiURL+"/api/rooms/hanoi/presence", "", "")
	var entries []models.PresenceEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	require.Equal(t, "User u1", entries[0].DisplayName)

	resp = do(http.MethodDelete, apiURL+"/api/rooms/hanoi/presence", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 7: Admin sweep answers
	resp = do(http.MethodPost, "http://"+adminAddr+"/admin/sweep", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 8: Unknown rooms are rejected
	resp = do(http.MethodGet, apiURL+"/api/rooms/atlantis/messages", "", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
