package websocket_test

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	appws "pairs_trader/pkg/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// Stop must wait for both the read loop and the heartbeat goroutine;
// a heartbeat left behind shows up as a goroutine count that never
// returns to baseline.
func TestStopLeavesNoGoroutines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	time.Sleep(100 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	client := appws.NewClient(wsURL(server), func([]byte) {}, testLogger())
	client.SetPingConfig(10*time.Millisecond, 10*time.Millisecond, 100*time.Millisecond)
	client.Start()

	time.Sleep(200 * time.Millisecond)
	client.Stop()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+1
	}, 2*time.Second, 20*time.Millisecond, "goroutines should return to baseline after Stop")
}
