package store_test

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/store"
)

func TestJournalAppendReplay(t *testing.T) {
	path := "testdata/journal"
	os.RemoveAll(path)

	j := store.NewEventJournal(path)
	if err := j.Init(); err != nil {
		t.Fatalf("error init journal: %s\n", err)
	}
	defer j.Close()

	code := 200
	elapsed := 4.2
	if err := j.Append(testMakeEvent(plurl.EventAPI, &plurl.APIEvent{
		Method: "GET", URL: "https://example.com", StatusCode: &code, ResponseTimeMS: &elapsed,
	})); err != nil {
		t.Fatalf("error appending: %s\n", err)
	}
	if err := j.Append(testMakeEvent(plurl.EventSuccess, &plurl.MessageEvent{
		Message: "GET https://example.com -> 200 (4ms)", Level: "INFO",
	})); err != nil {
		t.Fatalf("error appending: %s\n", err)
	}

	var replayed []*plurl.Event
	err := j.Replay(func(evt *plurl.Event) error {
		replayed = append(replayed, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("error replaying: %s\n", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected 2 events got %d\n", len(replayed))
	}

	api, ok := replayed[0].Data.(*plurl.APIEvent)
	if !ok {
		t.Fatalf("expected APIEvent got %T\n", replayed[0].Data)
	}
	if api.StatusCode == nil || *api.StatusCode != 200 {
		t.Fatalf("status code did not survive replay: %+v\n", api)
	}
	msg, ok := replayed[1].Data.(*plurl.MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent got %T\n", replayed[1].Data)
	}
	if msg.Level != "INFO" {
		t.Fatalf("level was %s\n", msg.Level)
	}
}

func TestJournalReplayOrder(t *testing.T) {
	path := "testdata/order/journal"
	os.RemoveAll(path)

	j := store.NewEventJournal(path)
	if err := j.Init(); err != nil {
		t.Fatalf("error init journal: %s\n", err)
	}
	defer j.Close()

	for i := 0; i < 20; i++ {
		evt := testMakeEvent(plurl.EventPhase, &plurl.PhaseEvent{
			Name:    fmt.Sprintf("phase_%02d", i),
			Message: fmt.Sprintf("phase %d", i),
		})
		if err := j.Append(evt); err != nil {
			t.Fatalf("error appending %d: %s\n", i, err)
		}
	}

	i := 0
	err := j.Replay(func(evt *plurl.Event) error {
		phase := evt.Data.(*plurl.PhaseEvent)
		if phase.Name != fmt.Sprintf("phase_%02d", i) {
			t.Fatalf("event %d out of order: %s\n", i, phase.Name)
		}
		i++
		return nil
	})
	if err != nil {
		t.Fatalf("error replaying: %s\n", err)
	}
	if i != 20 {
		t.Fatalf("expected 20 events got %d\n", i)
	}
}

func TestJournalReopen(t *testing.T) {
	path := "testdata/reopen/journal"
	os.RemoveAll(path)

	j := store.NewEventJournal(path)
	if err := j.Init(); err != nil {
		t.Fatalf("error init journal: %s\n", err)
	}
	if err := j.Append(testMakeEvent(plurl.EventWarning, &plurl.MessageEvent{Message: "first", Level: "WARNING"})); err != nil {
		t.Fatalf("error appending: %s\n", err)
	}
	j.Close()

	j = store.NewEventJournal(path)
	if err := j.Init(); err != nil {
		t.Fatalf("error reopening journal: %s\n", err)
	}
	defer j.Close()
	if err := j.Append(testMakeEvent(plurl.EventWarning, &plurl.MessageEvent{Message: "second", Level: "WARNING"})); err != nil {
		t.Fatalf("error appending after reopen: %s\n", err)
	}

	var messages []string
	err := j.Replay(func(evt *plurl.Event) error {
		messages = append(messages, evt.Data.EventMessage())
		return nil
	})
	if err != nil {
		t.Fatalf("error replaying: %s\n", err)
	}
	if len(messages) != 2 || messages[0] != "first" || messages[1] != "second" {
		t.Fatalf("reopen lost or reordered events: %v\n", messages)
	}
}

func TestJournalGenericFallback(t *testing.T) {
	path := "testdata/generic/journal"
	os.RemoveAll(path)

	j := store.NewEventJournal(path)
	if err := j.Init(); err != nil {
		t.Fatalf("error init journal: %s\n", err)
	}
	defer j.Close()

	evt := testMakeEvent(plurl.EventSessionStart, plurl.GenericEvent{
		"url":     "https://example.com",
		"message": "Starting plurl session",
	})
	if err := j.Append(evt); err != nil {
		t.Fatalf("error appending: %s\n", err)
	}

	err := j.Replay(func(got *plurl.Event) error {
		generic, ok := got.Data.(plurl.GenericEvent)
		if !ok {
			t.Fatalf("expected GenericEvent got %T\n", got.Data)
		}
		if generic.EventMessage() != "Starting plurl session" {
			t.Fatalf("unexpected message: %s\n", generic.EventMessage())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("error replaying: %s\n", err)
	}
}

func TestJournalConcurrentAppend(t *testing.T) {
	path := "testdata/concurrent/journal"
	os.RemoveAll(path)

	j := store.NewEventJournal(path)
	if err := j.Init(); err != nil {
		t.Fatalf("error init journal: %s\n", err)
	}
	defer j.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				evt := testMakeEvent(plurl.EventSuccess, &plurl.MessageEvent{Message: "ok", Level: "INFO"})
				if err := j.Append(evt); err != nil {
					t.Errorf("error appending: %s\n", err)
				}
			}
		}()
	}
	wg.Wait()

	count := 0
	err := j.Replay(func(evt *plurl.Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("error replaying: %s\n", err)
	}
	if count != 400 {
		t.Fatalf("concurrent appenders lost events, expected 400 got %d\n", count)
	}
}

func testMakeEvent(eventType string, data plurl.EventData) *plurl.Event {
	return &plurl.Event{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Type:      eventType,
		Data:      data,
	}
}
