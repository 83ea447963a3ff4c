package natsstream

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/storagetest"
)

func TestStreamConformance(t *testing.T) {
	url := os.Getenv("AGGKERNEL_TEST_NATS_URL")
	if url == "" {
		t.Skip("AGGKERNEL_TEST_NATS_URL not set")
	}

	storagetest.RunStream(t, func(t *testing.T) storage.Stream {
		s, err := Connect(Config{URL: url, InMemory: true})
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() {
			// Streams are shared server state; remove the ones this test made.
			for _, name := range []string{"orders", "payments"} {
				_ = s.js.DeleteStream(context.Background(), StreamName(name))
			}
			_ = s.Close()
		})
		return s
	})
}

func TestSubjectsAreTokenSafe(t *testing.T) {
	id := identity.NewEntityID(identity.NewMonotonicGenerator())
	got := subject("order.events v2", id)
	want := "aggkernel.order_events_v2." + id.String()
	if got != want {
		t.Fatalf("subject = %q, want %q", got, want)
	}
	if name := StreamName("order.events"); name != "AGGKERNEL_ORDER_EVENTS" {
		t.Fatalf("stream name = %q", name)
	}
	if strings.ContainsAny(StreamName("a.b*c>d"), ".*>") {
		t.Fatal("stream name contains reserved characters")
	}
}

func TestCloseIsNilSafe(t *testing.T) {
	var s *Stream
	if err := s.Close(); err != nil {
		t.Fatalf("close nil stream: %v", err)
	}
}
