package shard

import (
	"sync"
	"testing"
	"time"
)

func TestBuffer_SendReceive(t *testing.T) {
	b := NewBuffer[int](4)

	for i := 0; i < 3; i++ {
		if !b.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}
	for i := 0; i < 3; i++ {
		got, ok := b.Receive()
		if !ok || got != i {
			t.Errorf("Receive = (%d, %v), want (%d, true)", got, ok, i)
		}
	}

	if _, ok := b.TryReceive(); ok {
		t.Error("TryReceive on empty buffer returned ok")
	}
}

func TestBuffer_GrowsPastInitialCapacity(t *testing.T) {
	b := NewBuffer[int](2)

	for i := 0; i < 100; i++ {
		if !b.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	stats := b.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.Resizes == 0 {
		t.Error("expected at least one resize")
	}

	// FIFO order survives the copies.
	for i := 0; i < 100; i++ {
		got, ok := b.Receive()
		if !ok || got != i {
			t.Fatalf("Receive = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
}

func TestBuffer_ReceiveBlocksUntilSend(t *testing.T) {
	b := NewBuffer[string](4)

	got := make(chan string, 1)
	go func() {
		v, _ := b.Receive()
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	b.Send("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("received %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver never woke up")
	}
}

func TestBuffer_CloseDrainsThenSignals(t *testing.T) {
	b := NewBuffer[int](4)
	b.Send(1)
	b.Send(2)
	b.Close()

	if b.Send(3) {
		t.Error("Send after Close returned true")
	}

	if v, ok := b.Receive(); !ok || v != 1 {
		t.Errorf("first Receive = (%d, %v)", v, ok)
	}
	if v, ok := b.Receive(); !ok || v != 2 {
		t.Errorf("second Receive = (%d, %v)", v, ok)
	}
	if _, ok := b.Receive(); ok {
		t.Error("Receive after drain returned ok")
	}
}

func TestBuffer_ConcurrentProducers(t *testing.T) {
	b := NewBuffer[int](8)

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Send(i)
			}
		}()
	}
	wg.Wait()

	stats := b.Stats()
	if stats.TotalIn != producers*perProducer {
		t.Errorf("TotalIn = %d, want %d", stats.TotalIn, producers*perProducer)
	}
	if b.Len() != producers*perProducer {
		t.Errorf("Len = %d, want %d", b.Len(), producers*perProducer)
	}
}
