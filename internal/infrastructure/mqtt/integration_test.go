//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/knx-access/internal/knx"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegrationPublishSubscribe(t *testing.T) {
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := client.Topics()
	ga := knx.NewGroupAddress(1, 2, 3)
	received := make(chan knx.GroupAddress, 1)

	err = client.Subscribe(topics.AllWrites(), 1, func(topic string, _ []byte) error {
		_, got, err := topics.ParseAddress(topic)
		if err != nil {
			return err
		}
		received <- got
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllWrites()) {
		t.Error("subscription not tracked")
	}

	if err := client.Publish(topics.Write(ga), []byte(`{"value":true}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != ga {
			t.Errorf("received %s, want %s", got, ga)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := client.Unsubscribe(topics.AllWrites()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestIntegrationConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() expected error for closed port")
	}
}
