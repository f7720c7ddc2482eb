package signaling

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayed struct {
	from    string
	payload json.RawMessage
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func connect(t *testing.T, url, id, kind string, h Handler) *Client {
	t.Helper()
	registered := make(chan struct{})
	inner := h.OnRegistered
	h.OnRegistered = func() {
		if inner != nil {
			inner()
		}
		close(registered)
	}

	c := NewClient(url, id, kind, h)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never registered", id)
	}
	return c
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestServer_RelaysOfferAndAnswer(t *testing.T) {
	_, url := startServer(t)

	offers := make(chan relayed, 1)
	answers := make(chan relayed, 1)

	host := connect(t, url, "host-1", ClientTypeHost, Handler{
		OnOffer: func(from string, p json.RawMessage) { offers <- relayed{from, p} },
	})
	viewer := connect(t, url, "viewer-1", ClientTypeViewer, Handler{
		OnAnswer: func(from string, p json.RawMessage) { answers <- relayed{from, p} },
	})

	require.NoError(t, viewer.SendOffer("host-1", json.RawMessage(`{"sdp":"offer"}`)))
	got := recv(t, offers)
	assert.Equal(t, "viewer-1", got.from)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(got.payload))

	require.NoError(t, host.SendAnswer(got.from, json.RawMessage(`{"sdp":"answer"}`)))
	ans := recv(t, answers)
	assert.Equal(t, "host-1", ans.from)
	assert.JSONEq(t, `{"sdp":"answer"}`, string(ans.payload))
}

func TestServer_ViewerLeftNotifiesHost(t *testing.T) {
	s, url := startServer(t)

	offers := make(chan string, 1)
	left := make(chan string, 1)
	connect(t, url, "host-1", ClientTypeHost, Handler{
		OnOffer:      func(from string, _ json.RawMessage) { offers <- from },
		OnViewerLeft: func(id string) { left <- id },
	})
	viewer := connect(t, url, "viewer-1", ClientTypeViewer, Handler{})

	require.NoError(t, viewer.SendOffer("host-1", json.RawMessage(`{}`)))
	recv(t, offers)
	require.Eventually(t, func() bool {
		hosts := s.Hosts()
		return len(hosts) == 1 && hosts[0].Viewers == 1
	}, 2*time.Second, 5*time.Millisecond)

	viewer.Close()
	assert.Equal(t, "viewer-1", recv(t, left))
	require.Eventually(t, func() bool {
		hosts := s.Hosts()
		return len(hosts) == 1 && hosts[0].Viewers == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_HostDisconnectNotifiesViewer(t *testing.T) {
	_, url := startServer(t)

	offers := make(chan string, 1)
	gone := make(chan string, 1)
	host := connect(t, url, "host-1", ClientTypeHost, Handler{
		OnOffer: func(from string, _ json.RawMessage) { offers <- from },
	})
	viewer := connect(t, url, "viewer-1", ClientTypeViewer, Handler{
		OnHostDisconnected: func(id string) { gone <- id },
	})

	require.NoError(t, viewer.SendOffer("host-1", json.RawMessage(`{}`)))
	recv(t, offers)

	host.Close()
	assert.Equal(t, "host-1", recv(t, gone))
}

func TestServer_HostList(t *testing.T) {
	_, url := startServer(t)

	lists := make(chan []HostInfo, 8)
	connect(t, url, "b-host", ClientTypeHost, Handler{})
	connect(t, url, "a-host", ClientTypeHost, Handler{})
	viewer := connect(t, url, "viewer-1", ClientTypeViewer, Handler{
		OnHostsUpdated: func(h []HostInfo) { lists <- h },
	})

	require.NoError(t, viewer.RequestHostList())
	hosts := recv(t, lists)
	require.Len(t, hosts, 2)
	assert.Equal(t, "a-host", hosts[0].ID)
	assert.Equal(t, "b-host", hosts[1].ID)
	assert.True(t, hosts[0].Online)
}

func TestServer_UnknownTarget(t *testing.T) {
	_, url := startServer(t)

	errs := make(chan string, 1)
	viewer := connect(t, url, "viewer-1", ClientTypeViewer, Handler{
		OnError: func(msg string) { errs <- msg },
	})

	require.NoError(t, viewer.SendOffer("nobody", json.RawMessage(`{}`)))
	assert.Contains(t, recv(t, errs), "nobody")
}

func TestServer_RejectsDuplicateID(t *testing.T) {
	_, url := startServer(t)
	connect(t, url, "host-1", ClientTypeHost, Handler{})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Message{Type: TypeRegister, ID: "host-1", ClientType: ClientTypeHost}))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Msg, "already registered")
}

func TestServer_RejectsMissingRegister(t *testing.T) {
	_, url := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Message{Type: TypePing}))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeError, msg.Type)
}

func TestClient_SendAfterClose(t *testing.T) {
	_, url := startServer(t)
	c := connect(t, url, "viewer-1", ClientTypeViewer, Handler{})
	c.Close()

	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.ErrorIs(t, c.RequestHostList(), errNotConnected)
}
