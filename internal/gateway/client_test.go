package gateway

import (
	"testing"
)

func TestOverflowDropsClientQuietly(t *testing.T) {
	c := newClient(nil, "alice")

	for i := 0; i < clientSendBuf; i++ {
		c.enqueue(Frame{Type: frameOutput, Data: "x"})
	}

	// the buffer is full: this enqueue drops the client
	c.enqueue(Frame{Type: frameOutput, Data: "overflow"})
	select {
	case <-c.done:
	default:
		t.Fatal("overflowing the send buffer must drop the client")
	}
	if c.reason != "client too slow" {
		t.Errorf("drop reason = %q", c.reason)
	}

	// the hub keeps broadcasting until the read loop detaches the client;
	// those sends must be silent no-ops, not panics
	c.sendOutput([]byte("after drop"))
	c.sendError("after drop")
	c.closeWith("second close")
	if c.reason != "client too slow" {
		t.Errorf("first close reason must win, got %q", c.reason)
	}
}

func TestEnqueueAfterExplicitClose(t *testing.T) {
	c := newClient(nil, "alice")
	c.closeWith("session ended")

	c.enqueue(Frame{Type: frameOutput, Data: "late"})
	select {
	case f := <-c.send:
		t.Errorf("frame %q enqueued after close", f.Data)
	default:
	}
}
