package testkit

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"starkdevnet/core/blockproducer"
	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
	"starkdevnet/core/query"
	"starkdevnet/core/subscription"
)

func newNode() *Node {
	return New(Config{
		ChainID:         felt.FromUint64(99),
		ProtocolVersion: "0.13.1",
		SpecVersion:     "0.8.0",
		Sequencer:       felt.FromUint64(1),
		StartingPrices: gasoracle.Prices{
			L1GasWei: felt.FromUint64(1),
			L2GasWei: felt.FromUint64(1),
		},
		SealingMode:        blockproducer.ModeOnDemand,
		FeeTokenWeiAddress: felt.FromUint64(1000),
		FeeTokenFriAddress: felt.FromUint64(1001),
		Archival:           true,
	})
}

func TestNewWiresBlockSealedNotificationsToQueryAndHub(t *testing.T) {
	n := newNode()
	defer n.Stop()

	_, ch, unsub := n.Hub.Subscribe(subscription.TopicNewHeads, nil)
	defer unsub()

	n.Producer.CreateBlock(0)

	select {
	case msg := <-ch:
		if msg.Topic != subscription.TopicNewHeads {
			t.Fatalf("expected newHeads topic, got %v", msg.Topic)
		}
	default:
		t.Fatal("expected a newHeads notification after CreateBlock")
	}

	one := uint64(1)
	if _, err := n.Query.Block(query.BlockID{Number: &one}); err != nil {
		t.Fatalf("expected query index to know about sealed block 1: %v", err)
	}
}

func TestRPCServerDispatchesAgainstWiredComponents(t *testing.T) {
	n := newNode()
	defer n.Stop()

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"starknet_chainId","params":{}}`)
	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	n.RPC.Router().ServeHTTP(rec, req)

	var resp struct {
		Result interface{} `json:"result"`
		Error  interface{} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}
