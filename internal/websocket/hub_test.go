package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	wstypes "tariff-service/internal/domain/websocket"
	"tariff-service/internal/pkg/jwt"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubVerifier struct{}

func (stubVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &jwt.Claims{IdentityID: 42, Roles: []string{"user"}}, nil
}

func startHub(t *testing.T, setup ...func(*Hub)) (*Hub, string) {
	t.Helper()
	hub := NewHub(stubVerifier{}, zap.NewNop())
	for _, fn := range setup {
		fn(hub)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, err := hub.AuthenticateClient(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, auth)
		hub.Register <- client
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) *wstypes.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := wstypes.ParseMessage(data)
	require.NoError(t, err)
	return msg
}

func TestHubPushesNotificationToIdentity(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, wstypes.EventTypeConnected, readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return hub.IsUserConnected(42) }, time.Second, 10*time.Millisecond)

	assert.True(t, hub.PushNotification(42, &wstypes.NotificationData{ID: 7, Title: "Expires in 1 day"}))

	msg := readMessage(t, conn)
	require.Equal(t, wstypes.EventTypeNotification, msg.Type)
	var data wstypes.NotificationData
	require.NoError(t, DecodeData(msg.Data, &data))
	assert.Equal(t, int64(7), data.ID)
	assert.Equal(t, "Expires in 1 day", data.Title)
}

func TestHubAnswersPing(t *testing.T) {
	_, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn)

	ping, err := wstypes.NewMessage(wstypes.EventTypePing, nil).ToJSON()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ping))

	assert.Equal(t, wstypes.EventTypePong, readMessage(t, conn).Type)
}

func TestHubRoutesClientEvents(t *testing.T) {
	_, url := startHub(t, func(h *Hub) {
		require.NoError(t, h.Handle(wstypes.EventTypeNotificationList, func(ctx context.Context, c *Client, msg *wstypes.WSMessage) error {
			c.SendMessage(wstypes.NewMessage(wstypes.EventTypeNotificationList, map[string]interface{}{
				"identity_id": c.GetIdentityID(),
			}))
			return nil
		}))
		require.NoError(t, h.Handle("notification:fail", func(ctx context.Context, c *Client, msg *wstypes.WSMessage) error {
			return errors.New("store down")
		}))
	})

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn)

	send := func(event wstypes.EventType) *wstypes.WSMessage {
		raw, err := wstypes.NewMessage(event, nil).ToJSON()
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
		return readMessage(t, conn)
	}

	msg := send(wstypes.EventTypeNotificationList)
	require.Equal(t, wstypes.EventTypeNotificationList, msg.Type)
	var data struct {
		IdentityID int64 `json:"identity_id"`
	}
	require.NoError(t, DecodeData(msg.Data, &data))
	assert.Equal(t, int64(42), data.IdentityID)

	assert.Equal(t, wstypes.EventTypeError, send("notification:fail").Type)
	assert.Equal(t, wstypes.EventTypeError, send("nope").Type)
}

func TestHandleRejectsControlAndDuplicateEvents(t *testing.T) {
	hub := NewHub(stubVerifier{}, zap.NewNop())
	noop := func(ctx context.Context, c *Client, msg *wstypes.WSMessage) error { return nil }

	require.Error(t, hub.Handle(wstypes.EventTypePing, noop))
	require.Error(t, hub.Handle(wstypes.EventTypeSubscribe, noop))
	require.NoError(t, hub.Handle(wstypes.EventTypeNotificationList, noop))
	require.Error(t, hub.Handle(wstypes.EventTypeNotificationList, noop))
}

func TestHubRejectsBadToken(t *testing.T) {
	_, url := startHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=forged", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPushWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(stubVerifier{}, zap.NewNop())

	for range cap(hub.broadcast) {
		require.True(t, hub.PushNotification(1, &wstypes.NotificationData{ID: 1}))
	}
	assert.False(t, hub.PushNotification(1, &wstypes.NotificationData{ID: 2}))
}
