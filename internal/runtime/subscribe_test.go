package runtime

import "testing"

func TestSubscriptions_InvalidateIntersection(t *testing.T) {
	subs := NewSubscriptions()
	_, personCh := subs.Subscribe("app/listPersons", []string{"person"})
	_, orderCh := subs.Subscribe("app/listOrders", []string{"orders"})

	subs.Invalidate([]string{"person"})

	select {
	case <-personCh:
	default:
		t.Fatal("expected ping for person listener")
	}
	select {
	case <-orderCh:
		t.Fatal("order listener should not be pinged")
	default:
	}
}

func TestSubscriptions_PingsCoalesce(t *testing.T) {
	subs := NewSubscriptions()
	_, ch := subs.Subscribe("app/q", []string{"person"})

	subs.Invalidate([]string{"person"})
	subs.Invalidate([]string{"person"})
	subs.Invalidate([]string{"person"})

	<-ch
	select {
	case <-ch:
		t.Fatal("pings should coalesce into one")
	default:
	}
}

func TestSubscriptions_Refs(t *testing.T) {
	subs := NewSubscriptions()
	id1, _ := subs.Subscribe("app/q?id=1", []string{"person"})
	id2, _ := subs.Subscribe("app/q?id=1", []string{"person"})

	if got := subs.Refs("app/q?id=1"); got != 2 {
		t.Fatalf("Refs = %d, want 2", got)
	}
	if got := subs.Count(); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}

	subs.Unsubscribe(id1)
	if got := subs.Refs("app/q?id=1"); got != 1 {
		t.Fatalf("Refs after unsubscribe = %d, want 1", got)
	}
	subs.Unsubscribe(id2)
	if got := subs.Refs("app/q?id=1"); got != 0 {
		t.Fatalf("Refs after both gone = %d, want 0", got)
	}
}

func TestSubscriptions_UnsubscribeClosesChannel(t *testing.T) {
	subs := NewSubscriptions()
	id, ch := subs.Subscribe("app/q", []string{"person"})
	subs.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	// Invalidating after unsubscribe must not panic on the closed channel.
	subs.Invalidate([]string{"person"})
}

func TestSubscriptionKey(t *testing.T) {
	a := subscriptionKey("app", "q", map[string]any{"b": 2, "a": 1})
	b := subscriptionKey("app", "q", map[string]any{"a": 1, "b": 2})
	if a != b {
		t.Fatalf("keys differ for same args: %q vs %q", a, b)
	}
	c := subscriptionKey("app", "q", map[string]any{"a": 2})
	if a == c {
		t.Fatal("different args should produce different keys")
	}
	if got := subscriptionKey("app", "q", nil); got != "app/q" {
		t.Fatalf("bare key = %q", got)
	}
}
