package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"listenmode/internal/clock"
	"listenmode/internal/config"
	"listenmode/internal/coordinator"
	"listenmode/internal/decision"
	"listenmode/internal/resolver"
)

const watchPage = `<!doctype html>
<html><body>
<div class="html5-video-player"><video></video><div class="ytp-right-controls"></div></div>
<div id="upload-info"><div id="channel-name"><a href="/@lofi">%s</a></div></div>
</body></html>`

func boolPtr(b bool) *bool { return &b }

// TestLiveOpenWatch drives a real Chrome against a local page shaped like a
// watch page. Set LISTENMODE_LIVE_TESTS=1 to run it.
func TestLiveOpenWatch(t *testing.T) {
	if os.Getenv("LISTENMODE_LIVE_TESTS") == "" {
		t.Skip("Skipping live browser tests (LISTENMODE_LIVE_TESTS not set)")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, watchPage, "Lofi Girl")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var mu sync.Mutex
	var outcomes []coordinator.Outcome
	bcfg := config.DefaultConfig().Browser
	bcfg.Headless = boolPtr(true)

	manager := NewSessionManager(Options{
		Browser:    bcfg,
		ListenMode: config.DefaultConfig().ListenMode,
		Sink:       &mockEngineSink{},
		Factory: func(id string, s *Surface) *coordinator.Coordinator {
			return coordinator.New(coordinator.Options{
				SessionID: id,
				Settings:  staticSettings(decision.NewSettings(false, []string{"lofi girl"}, nil)),
				Toggle:    s,
				Resolver:  resolver.New(clock.System{}, s, 0, 0),
				Observers: []coordinator.Observer{coordinator.ObserverFunc(func(_ context.Context, o coordinator.Outcome) {
					mu.Lock()
					outcomes = append(outcomes, o)
					mu.Unlock()
				})},
			})
		},
	})
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start browser: %v", err)
	}
	defer func() {
		if err := manager.Shutdown(ctx); err != nil {
			t.Logf("Shutdown warning: %v", err)
		}
	}()

	sess, err := manager.OpenWatch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("OpenWatch failed: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(outcomes)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) == 0 {
		t.Fatal("expected a decision after the button mounted")
	}
	if outcomes[0].Action != "enable" || outcomes[0].Channel != "Lofi Girl" {
		t.Errorf("unexpected outcome: %+v", outcomes[0])
	}

	surface, ok := manager.Surface(sess.ID)
	if !ok {
		t.Fatal("expected session surface")
	}
	active, err := surface.IsActive(ctx)
	if err != nil || !active {
		t.Errorf("expected listen mode active on the page, got %v, %v", active, err)
	}
}
