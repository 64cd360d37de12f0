package changefeed

import (
	"context"
	"testing"
)

func TestLocal_deliversToListenersOfType(t *testing.T) {
	f := NewLocal()
	ctx := context.Background()

	var tasks, products []Event
	cancelTasks, _ := f.Listen(ctx, "tasks", func(ev Event) { tasks = append(tasks, ev) })
	defer cancelTasks()
	cancelProducts, _ := f.Listen(ctx, "products", func(ev Event) { products = append(products, ev) })
	defer cancelProducts()

	if err := f.Publish(ctx, Event{EntityType: "tasks", Op: OpInsert, ID: "1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(tasks) != 1 {
		t.Fatalf("tasks events = %d, want 1", len(tasks))
	}
	if len(products) != 0 {
		t.Errorf("products events = %d, want 0", len(products))
	}
	if tasks[0].Origin == "" || tasks[0].At.IsZero() {
		t.Errorf("event not stamped: %+v", tasks[0])
	}
}

func TestLocal_cancelStopsDelivery(t *testing.T) {
	f := NewLocal()
	ctx := context.Background()

	n := 0
	cancel, _ := f.Listen(ctx, "tasks", func(Event) { n++ })
	cancel()
	cancel()

	f.Publish(ctx, Event{EntityType: "tasks", Op: OpDelete})
	if n != 0 {
		t.Errorf("deliveries after cancel = %d, want 0", n)
	}
}

func TestLocal_closeDropsListeners(t *testing.T) {
	f := NewLocal()
	ctx := context.Background()

	n := 0
	f.Listen(ctx, "tasks", func(Event) { n++ })
	f.Close()
	f.Publish(ctx, Event{EntityType: "tasks"})
	if n != 0 {
		t.Errorf("deliveries after close = %d, want 0", n)
	}
	if err := f.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}
