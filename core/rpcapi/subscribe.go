package rpcapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/ledger"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/subscription"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscribeRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type subscribeParams struct {
	Topic          subscription.Topic `json:"topic"`
	FinalityStatus []string           `json:"finality_status"`
}

type unsubscribeParams struct {
	SubscriptionID string `json:"subscription_id"`
}

type wsNotification struct {
	JSONRPC        string      `json:"jsonrpc"`
	Method         string      `json:"method"`
	SubscriptionID string      `json:"subscription_id"`
	Result         interface{} `json:"result"`
}

// handleWebSocket serves one long-lived subscription connection: each
// inbound frame is either "starknet_subscribe" or "starknet_unsubscribe",
// mirroring the request/response shape of the HTTP JSON-RPC endpoint but
// over a socket that also carries asynchronous notifications.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Debug("rpcapi: websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	unsubs := make(map[string]func())
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	for {
		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Method {
		case "starknet_subscribe", "devnet_subscribe":
			var params subscribeParams
			if err := json.Unmarshal(req.Params, &params); err != nil {
				write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: int(rpcerr.CodeInvalidRequest), Message: "invalid subscribe params"}})
				continue
			}
			finalities, rerr := parseFinalities(params.FinalityStatus)
			if rerr != nil {
				write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: int(rerr.Code), Message: rerr.Message}})
				continue
			}
			id, ch, unsub := s.hub.Subscribe(params.Topic, finalities)
			unsubs[id] = unsub
			write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]string{"subscription_id": id}})
			go s.pumpSubscription(id, ch, write)

		case "starknet_unsubscribe", "devnet_unsubscribe":
			var params unsubscribeParams
			if err := json.Unmarshal(req.Params, &params); err != nil {
				write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: int(rpcerr.CodeInvalidRequest), Message: "invalid unsubscribe params"}})
				continue
			}
			if unsub, ok := unsubs[params.SubscriptionID]; ok {
				unsub()
				delete(unsubs, params.SubscriptionID)
				write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: true})
			} else {
				write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: int(rpcerr.CodeInvalidSubscriptionId), Message: "invalid subscription id"}})
			}

		default:
			write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: int(rpcerr.CodeInvalidRequest), Message: "method not found: " + req.Method}})
		}
	}
}

func (s *Server) pumpSubscription(id string, ch <-chan subscription.Message, write func(interface{}) error) {
	for msg := range ch {
		notif := wsNotification{
			JSONRPC:        "2.0",
			Method:         string(msg.Topic) + "_subscription",
			SubscriptionID: id,
			Result:         msg.Payload,
		}
		if err := write(notif); err != nil {
			logrus.WithError(err).Debug("rpcapi: subscription write failed, dropping subscriber")
			return
		}
	}
}

func parseFinalities(names []string) ([]ledger.Finality, *rpcerr.Error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]ledger.Finality, 0, len(names))
	for _, n := range names {
		switch n {
		case "PRE_CONFIRMED":
			out = append(out, ledger.FinalityPreConfirmed)
		case "PENDING":
			return nil, rpcerr.New(rpcerr.CodeInvalidRequest, `unsupported finality status "PENDING": use "PRE_CONFIRMED"`)
		case "ACCEPTED_ON_L2":
			out = append(out, ledger.FinalityAcceptedOnL2)
		case "ACCEPTED_ON_L1":
			out = append(out, ledger.FinalityAcceptedOnL1)
		}
	}
	return out, nil
}
