package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sfthub/marketplace-engine/internal/api"
	"github.com/sfthub/marketplace-engine/internal/model"
)

// A client that disconnects mid-broadcast is dropped; the remaining clients
// keep receiving events and the hub keeps running.
func TestHub_SurvivesDeadClientDuringBroadcast(t *testing.T) {
	hub := api.NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	alive, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer alive.Close()

	dead, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// Drop the transport without a close handshake, so the server side hits
	// a write error on the next broadcast.
	dead.UnderlyingConn().Close()

	// Publish continuously: registration of the live client races with the
	// first broadcasts, and repeated sends push the dead conn into its write
	// failure.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Publish(model.MarketFeeChanged{Prev: 0, New: 42})
			}
		}
	}()

	alive.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 20; i++ {
		_, raw, err := alive.ReadMessage()
		if err != nil {
			t.Fatalf("live client read #%d: %v", i, err)
		}
		if !strings.Contains(string(raw), "market_fee_changed") {
			t.Fatalf("unexpected payload: %s", raw)
		}
	}
}
