package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/amirphl/segment-engine/config"
	"github.com/amirphl/segment-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifierSendsOneMessagePerChat(t *testing.T) {
	var mu sync.Mutex
	var got []sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botsecret/sendMessage", r.URL.Path)
		var msg sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		if msg.ChatID == "blocked" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier, err := NewNotificationService(config.MessengerConfig{Provider: "http", APIURL: srv.URL + "/", Token: "secret"}, utils.DiscardLogger())
	require.NoError(t, err)

	err = notifier.Notify(context.Background(), []string{"1", "blocked", "2"}, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat blocked")

	require.Len(t, got, 3)
	assert.Equal(t, sendMessageRequest{ChatID: "2", Text: "hello"}, got[2])
}

func TestNewNotificationService(t *testing.T) {
	n, err := NewNotificationService(config.MessengerConfig{}, utils.DiscardLogger())
	require.NoError(t, err)
	assert.IsType(t, &MockNotifier{}, n)
	assert.NoError(t, n.Notify(context.Background(), []string{"1"}, "x"))

	_, err = NewNotificationService(config.MessengerConfig{Provider: "http"}, utils.DiscardLogger())
	assert.Error(t, err)
	_, err = NewNotificationService(config.MessengerConfig{Provider: "pigeon"}, utils.DiscardLogger())
	assert.Error(t, err)
}
