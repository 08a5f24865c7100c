package mqtt

import (
	"net"
	"testing"
	"time"
)

func TestConnect_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	if _, err := Connect("tcp://"+addr, "test", 500*time.Millisecond, nil); err == nil {
		t.Fatalf("expected connect error without a broker")
	}
}
