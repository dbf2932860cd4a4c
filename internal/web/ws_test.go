package web

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/job"

	_ "github.com/mattn/go-sqlite3"
)

func TestEventStream(t *testing.T) {
	store, err := job.NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	bus := events.New()
	srv := httptest.NewServer(NewServer(store, &fakeQueue{}, bus, nil).Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceRunner,
		Kind:      events.KindJobStart,
		Data:      map[string]any{"job_id": "job-1"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Source != events.SourceRunner || ev.Kind != events.KindJobStart {
		t.Errorf("event = %s/%s", ev.Source, ev.Kind)
	}
	if ev.Data["job_id"] != "job-1" {
		t.Errorf("Data = %v", ev.Data)
	}
}
