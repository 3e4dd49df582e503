package output

import (
	"reflect"
	"sync"
	"testing"
)

func TestRegistryLazyCreate(t *testing.T) {
	reg := NewRegistry(100, 0)

	if _, ok := reg.Lookup("run:alpha"); ok {
		t.Fatalf("Lookup found a buffer before any write")
	}
	reg.Append("run:alpha", "hello")
	buf, ok := reg.Lookup("run:alpha")
	if !ok {
		t.Fatalf("buffer not created on first write")
	}
	if buf != reg.Get("run:alpha") {
		t.Errorf("Get returned a different buffer for the same key")
	}
	if buf.String() != "hello" {
		t.Errorf("String() = %q", buf.String())
	}
}

func TestRegistryClearAndRemove(t *testing.T) {
	reg := NewRegistry(100, 0)
	reg.Append("term:a", "x")
	reg.Append("term:b", "y")
	reg.Append("run:a", "z")

	reg.Clear("term:a")
	reg.Clear("missing")
	if buf, _ := reg.Lookup("term:a"); buf.Len() != 0 {
		t.Errorf("Clear did not empty the buffer")
	}

	if n := reg.RemovePrefix("term:"); n != 2 {
		t.Errorf("RemovePrefix removed %d buffers, want 2", n)
	}
	if got := reg.Keys(); !reflect.DeepEqual(got, []string{"run:a"}) {
		t.Errorf("Keys() = %v", got)
	}

	reg.Remove("run:a")
	if len(reg.Keys()) != 0 {
		t.Errorf("Remove left keys behind: %v", reg.Keys())
	}
}

func TestRegistryConcurrentGet(t *testing.T) {
	reg := NewRegistry(1_000_000, 0)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Append("shared", "x")
			}
		}()
	}
	wg.Wait()

	if got := reg.Get("shared").Len(); got != 1600 {
		t.Errorf("Len() = %d, want 1600", got)
	}
}
