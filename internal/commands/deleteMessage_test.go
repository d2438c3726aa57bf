package commands

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"skytalk/internal/config"

	"github.com/stretchr/testify/require"
)

func TestParseMessageRef(t *testing.T) {
	roomID, id, err := ParseMessageRef("hanoi:1700000000123")
	require.NoError(t, err)
	require.Equal(t, "hanoi", roomID)
	require.Equal(t, int64(1700000000123), id)

	for _, ref := range []string{"hanoi", ":12", "hanoi:abc", ""} {
		_, _, err := ParseMessageRef(ref)
		require.Error(t, err, ref)
	}
}

func TestDeleteMessage(t *testing.T) {
	var gotMethod, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"Message 42 deleted from hanoi"}`))
	}))
	defer ts.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(ts.URL, "http://")}
	require.NoError(t, DeleteMessage("hanoi:42", cfg))
	require.Equal(t, http.MethodDelete, gotMethod)
	require.Equal(t, "/admin/rooms/hanoi/messages/42", gotPath)
}

func TestDeleteMessage_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Room not found", http.StatusNotFound)
	}))
	defer ts.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(ts.URL, "http://")}
	err := DeleteMessage("atlantis:1", cfg)
	require.ErrorContains(t, err, "Status: 404")
}
