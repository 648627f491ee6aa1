// Package events defines the wire protocol between clients and the
// coordination engine: JSON envelopes of the form {"type": ..., "data": ...},
// and the (audience, event) pairs state transitions hand back for dispatch.
package events

import "encoding/json"

// Inbound event types (client -> engine).
const (
	TypeJoinRoom          = "join_room"
	TypeSendMessage       = "send_message"
	TypeStartPoll         = "start_poll"
	TypeVote              = "vote"
	TypeStartBulkOrder    = "start_bulk_order"
	TypeCommitBulkOrder   = "commit_to_bulk_order"
	TypeFinalizeBulkOrder = "finalize_bulk_order"
	TypeStartMarket       = "start_market"
	TypeJoinMarket        = "join_market"
	TypeMakeBid           = "make_bid"
	TypeAcceptBid         = "accept_bid"
)

// Outbound event types (engine -> client).
const (
	TypeCommunityInfo      = "community_info"
	TypeChatHistory        = "chat_history"
	TypeReceiveMessage     = "receive_message"
	TypeNewPoll            = "new_poll"
	TypePollUpdate         = "poll_update"
	TypePollError          = "poll_error"
	TypeNewBulkOrder       = "new_bulk_order"
	TypeBulkOrderUpdate    = "bulk_order_update"
	TypeBulkOrderFinalized = "bulk_order_finalized"
	TypeBulkOrderError     = "bulk_order_error"
	TypeActiveMarkets      = "active_markets_list"
	TypeNewMarketStarted   = "new_market_started"
	TypeMarketUpdate       = "market_update"
	TypeMarketClosed       = "market_closed"
	TypeBidAccepted        = "bid_accepted"
	TypeMarketError        = "market_error"
	TypeErrorMessage       = "error_message"
)

// Envelope is the frame every message travels in, both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Marshal frames an event payload into an envelope ready for the wire.
func Marshal(eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: payload})
}

// Scope identifies the audience of an outbound event.
type Scope int

const (
	// ScopeCaller delivers only to the connection that caused the event.
	ScopeCaller Scope = iota
	// ScopeRoom delivers to every current member of a room.
	ScopeRoom
	// ScopeGlobal delivers to every connected client.
	ScopeGlobal
)

// Outbound is one (audience, event) pair produced by a state transition.
// Transitions never touch the transport; the session layer dispatches.
type Outbound struct {
	Scope Scope
	Room  string
	Type  string
	Data  any
}

func ToCaller(eventType string, data any) Outbound {
	return Outbound{Scope: ScopeCaller, Type: eventType, Data: data}
}

func ToRoom(room, eventType string, data any) Outbound {
	return Outbound{Scope: ScopeRoom, Room: room, Type: eventType, Data: data}
}

func ToAll(eventType string, data any) Outbound {
	return Outbound{Scope: ScopeGlobal, Type: eventType, Data: data}
}

// Inbound payloads.

type JoinRoomPayload struct {
	Pincode string `json:"pincode"`
}

type SendMessagePayload struct {
	Pincode string `json:"pincode"`
	Message string `json:"message"`
}

type StartPollPayload struct {
	Pincode  string   `json:"pincode"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type VotePayload struct {
	Pincode string `json:"pincode"`
	Option  string `json:"option"`
}

type StartBulkOrderPayload struct {
	Pincode     string `json:"pincode"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
}

type CommitBulkOrderPayload struct {
	Pincode  string `json:"pincode"`
	Quantity int    `json:"quantity"`
}

type FinalizeBulkOrderPayload struct {
	Pincode string `json:"pincode"`
}

type StartMarketPayload struct {
	ProductID     string  `json:"productId"`
	ProductName   string  `json:"productName"`
	StartingPrice float64 `json:"startingPrice"`
}

type JoinMarketPayload struct {
	AuctionID string `json:"auctionId"`
}

type MakeBidPayload struct {
	AuctionID string  `json:"auctionId"`
	BidAmount float64 `json:"bidAmount"`
}

type AcceptBidPayload struct {
	AuctionID string `json:"auctionId"`
	VendorID  string `json:"vendorId"`
}

// Outbound payloads shared across packages.

type ErrorPayload struct {
	Message string `json:"message"`
}

type CommunityInfoPayload struct {
	PresidentID string `json:"presidentId"`
}

type MarketClosedPayload struct {
	AuctionID string `json:"auctionId"`
}
