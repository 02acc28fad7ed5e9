package api

import "testing"

func TestApplySubscriptionOnlyTracksTradesChannel(t *testing.T) {
	c := &Client{}

	c.applySubscription(WSSubscribeRequest{Op: "subscribe", Channels: []string{"orderbook"}})
	if c.subscribed() {
		t.Fatal("subscribing to an unpublished channel should not mark the client subscribed")
	}

	c.applySubscription(WSSubscribeRequest{Op: "subscribe", Channels: []string{"trades"}})
	if !c.subscribed() {
		t.Fatal("subscribing to trades should mark the client subscribed")
	}

	c.applySubscription(WSSubscribeRequest{Op: "unsubscribe", Channels: []string{"trades"}})
	if c.subscribed() {
		t.Fatal("unsubscribing from trades should clear the flag")
	}
}
