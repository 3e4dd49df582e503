package events

import (
	"reflect"
	"testing"
)

func TestHubDeliversToEveryListenerSynchronously(t *testing.T) {
	hub := NewHub()
	var first, second []string

	hub.On(ChannelTerminalData, func(e Event) {
		first = append(first, e.Payload.(TerminalData).Data)
	})
	hub.On(ChannelTerminalData, func(e Event) {
		second = append(second, e.Payload.(TerminalData).Data)
	})

	hub.Emit(TerminalData{TerminalKey: "term:1", Data: "a"})
	hub.Emit(TerminalData{TerminalKey: "term:1", Data: "b"})

	// No waiting: delivery completed inside Emit.
	want := []string{"a", "b"}
	if !reflect.DeepEqual(first, want) || !reflect.DeepEqual(second, want) {
		t.Errorf("first = %v, second = %v, want both %v", first, second, want)
	}
}

func TestHubRoutesByChannel(t *testing.T) {
	hub := NewHub()
	var got []Event
	hub.On(ChannelStatusChange, func(e Event) { got = append(got, e) })

	hub.Emit(TerminalExit{TerminalKey: "term:1", ExitCode: 0})
	hub.Emit(StatusChange{Path: "/repo"})

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Channel != ChannelStatusChange || got[0].Key != "/repo" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestHubEventFields(t *testing.T) {
	hub := NewHub()
	var got []Event
	hub.On(ChannelScriptOutput, func(e Event) { got = append(got, e) })

	code := 2
	hub.Emit(ScriptOutput{ProducerKey: "run:alpha", Type: ScriptDone, ExitCode: &code})
	hub.Emit(ScriptOutput{ProducerKey: "run:alpha", Type: ScriptOutputData, Data: "x"})

	if got[0].Key != "run:alpha" {
		t.Errorf("Key = %q, want run:alpha", got[0].Key)
	}
	if got[1].Seq <= got[0].Seq {
		t.Errorf("Seq did not increase: %d then %d", got[0].Seq, got[1].Seq)
	}
}

func TestHubOff(t *testing.T) {
	hub := NewHub()
	calls := 0
	id := hub.On(ChannelStream, func(Event) { calls++ })
	other := hub.On(ChannelStream, func(Event) {})

	hub.Emit(StreamToken{SessionID: "s1", Type: "token", Data: "hi"})
	hub.Off(ChannelStream, id)
	hub.Off(ChannelStream, id)
	hub.Off(ChannelFileChange, other)
	hub.Emit(StreamToken{SessionID: "s1", Type: "token", Data: "again"})

	if calls != 1 {
		t.Errorf("listener called %d times, want 1", calls)
	}
	if n := hub.ListenerCount(ChannelStream); n != 1 {
		t.Errorf("ListenerCount() = %d, want 1", n)
	}
}

func TestHubRemoveAllListeners(t *testing.T) {
	hub := NewHub()
	for _, c := range Channels {
		hub.On(c, func(Event) {})
	}

	hub.RemoveAllListeners(ChannelStream, ChannelFileChange)
	if hub.ListenerCount(ChannelStream) != 0 || hub.ListenerCount(ChannelFileChange) != 0 {
		t.Errorf("named channels still have listeners")
	}
	if hub.ListenerCount(ChannelTerminalData) != 1 {
		t.Errorf("other channels lost their listeners")
	}

	hub.RemoveAllListeners()
	for _, c := range Channels {
		if hub.ListenerCount(c) != 0 {
			t.Errorf("channel %s still has listeners", c)
		}
	}
}

func TestHubIsolatesPanickingListener(t *testing.T) {
	hub := NewHub()
	delivered := 0
	hub.On(ChannelFileChange, func(Event) { panic("bad listener") })
	hub.On(ChannelFileChange, func(Event) { delivered++ })

	hub.Emit(FileChange{RootPath: "/repo", Kind: FileAdded, ChangedPath: "/repo/a", RelativePath: "a"})
	hub.Emit(FileChange{RootPath: "/repo", Kind: FileRemoved, ChangedPath: "/repo/a", RelativePath: "a"})

	if delivered != 2 {
		t.Errorf("healthy listener got %d events, want 2", delivered)
	}
}

func TestHubListenerMayUnsubscribeDuringEmit(t *testing.T) {
	hub := NewHub()
	var id ListenerID
	calls := 0
	id = hub.On(ChannelTerminalExit, func(Event) {
		calls++
		hub.Off(ChannelTerminalExit, id)
	})

	hub.Emit(TerminalExit{TerminalKey: "t"})
	hub.Emit(TerminalExit{TerminalKey: "t"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestChannelValid(t *testing.T) {
	for _, c := range Channels {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Channel("bogus").Valid() {
		t.Errorf("bogus channel reported valid")
	}
}
