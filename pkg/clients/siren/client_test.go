package siren

import (
	"context"
	"testing"
	"time"

	api "geominer/siren/pkg/api/siren"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/testutil"
)

func newConnectedClient(t *testing.T, mock *testutil.MockRelayServer, user testutil.TestUser) *Client {
	t.Helper()

	token, err := user.GenerateJWT(testutil.NewJWTTestHelper())
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	client := NewClient(Config{
		BaseURL: mock.HTTPURL(),
		Token:   token,
		Logger:  logging.NewLogger(),
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitForMessage(t *testing.T, client *Client, msgType string) api.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-client.GetMessages():
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", msgType)
		}
	}
}

func TestClientConnectRequiresToken(t *testing.T) {
	mock := testutil.NewMockRelayServer()
	defer mock.Close()

	client := NewClient(Config{
		BaseURL: mock.HTTPURL(),
		Logger:  logging.NewLogger(),
	})
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected connect without token to fail")
	}
}

func TestClientZoneJoinLeave(t *testing.T) {
	mock := testutil.NewMockRelayServer()
	defer mock.Close()

	client := newConnectedClient(t, mock, testutil.TestViewer)

	if err := client.JoinZone("bg-042"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	waitForMessage(t, client, api.TypeZoneJoined)
	if zones := client.Zones(); len(zones) != 1 || zones[0] != "bg-042" {
		t.Fatalf("expected [bg-042], got %v", zones)
	}

	// Joining the same zone again is a no-op
	if err := client.JoinZone("bg-042"); err != nil {
		t.Fatalf("repeat join failed: %v", err)
	}
	if zones := client.Zones(); len(zones) != 1 {
		t.Fatalf("expected a single zone after repeat join, got %v", zones)
	}

	if err := client.LeaveZone("bg-042"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	waitForMessage(t, client, api.TypeZoneLeft)
	if zones := client.Zones(); len(zones) != 0 {
		t.Fatalf("expected no zones after leave, got %v", zones)
	}
}

func TestClientReceivesBroadcast(t *testing.T) {
	mock := testutil.NewMockRelayServer()
	defer mock.Close()

	client := newConnectedClient(t, mock, testutil.TestViewer)

	// Wait until the server has registered the connection
	deadline := time.Now().Add(2 * time.Second)
	for mock.GetConnection(testutil.TestViewer.Subject) == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mock.Broadcast(api.TypeAlertNew, map[string]interface{}{"id": "a1", "severity": "HIGH"})

	msg := waitForMessage(t, client, api.TypeAlertNew)
	if msg.Type != api.TypeAlertNew {
		t.Fatalf("unexpected message type %q", msg.Type)
	}
}

func TestConnectWithRetryGivesUp(t *testing.T) {
	client := NewClient(Config{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		Logger:         logging.NewLogger(),
		ReconnectDelay: time.Millisecond,
		MaxReconnects:  2,
	})

	err := client.ConnectWithRetry(context.Background())
	if err == nil {
		t.Fatal("expected retry exhaustion error")
	}
}
