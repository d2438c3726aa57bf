package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"skytalk/internal/api"
	"skytalk/internal/config"
)

// ParseMessageRef splits a "room:id" reference.
func ParseMessageRef(ref string) (string, int64, error) {
	roomID, rawID, ok := strings.Cut(ref, ":")
	if !ok || roomID == "" {
		return "", 0, fmt.Errorf("message reference must look like room:id, got %q", ref)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid message id %q: %w", rawID, err)
	}
	return roomID, id, nil
}

// DeleteMessage asks the running server to remove a message as a moderator.
func DeleteMessage(ref string, cfg *config.Config) error {
	roomID, id, err := ParseMessageRef(ref)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/admin/rooms/%s/messages/%d", cfg.AdminAddr, roomID, id)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to delete message (Status: %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result api.Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Println(result.Message)
	return nil
}
