// Package session routes inbound client events to the chat, governance and
// market engines and dispatches the (audience, event) pairs they return.
// Each event is handled independently: a failure is reported back to the
// causing connection as a scoped *_error event and never disturbs other
// rooms or auctions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sourcebazaar/realtime/internal/events"
	"github.com/sourcebazaar/realtime/internal/governance"
	"github.com/sourcebazaar/realtime/internal/hub"
	"github.com/sourcebazaar/realtime/internal/ledger"
	"github.com/sourcebazaar/realtime/internal/market"
	"github.com/sourcebazaar/realtime/internal/store"
)

// Upstream store calls get a bounded slice of time per event.
const storeTimeout = 10 * time.Second

// chatMessage is a persisted message decorated with the author's standing.
type chatMessage struct {
	store.Message
	IsPresident bool `json:"isPresident"`
}

// Router handles the full lifetime of a connection after authentication.
type Router struct {
	hub         *hub.Hub
	gov         *governance.Engine
	market      *market.Engine
	communities store.CommunityStore
	messages    store.MessageStore
	ledger      *ledger.Publisher

	historyLimit int
	now          func() time.Time
	log          *slog.Logger
}

func NewRouter(h *hub.Hub, gov *governance.Engine, m *market.Engine, communities store.CommunityStore, messages store.MessageStore, pub *ledger.Publisher, historyLimit int, log *slog.Logger) *Router {
	return &Router{
		hub:          h,
		gov:          gov,
		market:       m,
		communities:  communities,
		messages:     messages,
		ledger:       pub,
		historyLimit: historyLimit,
		now:          time.Now,
		log:          log,
	}
}

// HandleConnect registers the client and sends the connect-time snapshot of
// every live market.
func (r *Router) HandleConnect(c *hub.Client) {
	r.hub.Register(c)
	r.send(c, events.TypeActiveMarkets, r.market.Snapshots())
	r.log.Info("client connected", "client", c.ID, "user", c.Identity.UserID, "role", c.Identity.Role)
}

// HandleDisconnect removes the client from every room. Polls, bulk orders
// and auctions survive any member's departure, including their creator's.
func (r *Router) HandleDisconnect(c *hub.Client) {
	r.hub.Remove(c)
	r.log.Info("client disconnected", "client", c.ID, "user", c.Identity.UserID)
}

// HandleMessage processes one inbound envelope.
func (r *Router) HandleMessage(c *hub.Client, raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.sendError(c, events.TypeErrorMessage, "malformed message")
		return
	}

	switch env.Type {
	case events.TypeJoinRoom:
		r.joinRoom(c, env.Data)
	case events.TypeSendMessage:
		r.sendChat(c, env.Data)
	case events.TypeStartPoll:
		r.startPoll(c, env.Data)
	case events.TypeVote:
		r.vote(c, env.Data)
	case events.TypeStartBulkOrder:
		r.startBulkOrder(c, env.Data)
	case events.TypeCommitBulkOrder:
		r.commitBulkOrder(c, env.Data)
	case events.TypeFinalizeBulkOrder:
		r.finalizeBulkOrder(c, env.Data)
	case events.TypeStartMarket:
		r.startMarket(c, env.Data)
	case events.TypeJoinMarket:
		r.joinMarket(c, env.Data)
	case events.TypeMakeBid:
		r.makeBid(c, env.Data)
	case events.TypeAcceptBid:
		r.acceptBid(c, env.Data)
	default:
		r.sendError(c, events.TypeErrorMessage, "unknown event type: "+env.Type)
	}
}

// joinRoom admits the connection to a community room, bootstraps the
// community record if this is the locality's first ever join, and replays
// enough state for the session to catch up: chat history, the president,
// and any active poll or bulk order.
func (r *Router) joinRoom(c *hub.Client, data json.RawMessage) {
	var p events.JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Pincode == "" {
		r.sendError(c, events.TypeErrorMessage, "pincode is required")
		return
	}

	room := governance.RoomName(p.Pincode)
	r.hub.Join(c, room)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	community, created, err := r.communities.Ensure(ctx, p.Pincode, c.Identity.UserID)
	if err != nil {
		r.log.Error("community bootstrap failed", "pincode", p.Pincode, "error", err)
		r.sendError(c, events.TypeErrorMessage, "failed to join community room")
		return
	}
	if created {
		r.log.Info("community created", "pincode", p.Pincode, "president", community.PresidentID)
	}

	history, err := r.messages.Recent(ctx, p.Pincode, r.historyLimit)
	if err != nil {
		r.log.Error("history replay failed", "pincode", p.Pincode, "error", err)
		r.sendError(c, events.TypeErrorMessage, "failed to join community room")
		return
	}
	if history == nil {
		history = []store.Message{}
	}

	r.send(c, events.TypeChatHistory, history)
	r.send(c, events.TypeCommunityInfo, events.CommunityInfoPayload{PresidentID: community.PresidentID})

	poll, bulk := r.gov.Snapshot(p.Pincode)
	if poll != nil {
		r.send(c, events.TypePollUpdate, poll)
	}
	if bulk != nil {
		r.send(c, events.TypeBulkOrderUpdate, bulk)
	}
}

func (r *Router) sendChat(c *hub.Client, data json.RawMessage) {
	var p events.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Pincode == "" || p.Message == "" {
		r.sendError(c, events.TypeErrorMessage, "pincode and message are required")
		return
	}

	room := governance.RoomName(p.Pincode)
	if !r.hub.IsMember(c, room) {
		r.sendError(c, events.TypeErrorMessage, "join the community room first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	isPresident := false
	community, err := r.communities.Get(ctx, p.Pincode)
	if err == nil {
		isPresident = community.PresidentID == c.Identity.UserID
	} else if !errors.Is(err, store.ErrNotFound) {
		r.log.Error("community lookup failed", "pincode", p.Pincode, "error", err)
	}

	saved, err := r.messages.Append(ctx, p.Pincode, c.Identity.UserID, p.Message)
	if err != nil {
		r.log.Error("message persist failed", "pincode", p.Pincode, "error", err)
		r.sendError(c, events.TypeErrorMessage, "failed to send message")
		return
	}

	r.dispatch(c, []events.Outbound{
		events.ToRoom(room, events.TypeReceiveMessage, chatMessage{Message: saved, IsPresident: isPresident}),
	})
}

func (r *Router) startPoll(c *hub.Client, data json.RawMessage) {
	var p events.StartPollPayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, events.TypePollError, "malformed poll request")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	evs, err := r.gov.StartPoll(ctx, p.Pincode, c.Identity, p.Question, p.Options)
	if err != nil {
		r.sendError(c, events.TypePollError, err.Error())
		return
	}
	r.dispatch(c, evs)
}

func (r *Router) vote(c *hub.Client, data json.RawMessage) {
	var p events.VotePayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, events.TypePollError, "malformed vote")
		return
	}

	evs, err := r.gov.Vote(p.Pincode, c.Identity, p.Option)
	if err != nil {
		r.sendError(c, events.TypePollError, err.Error())
		return
	}
	r.dispatch(c, evs)
}

func (r *Router) startBulkOrder(c *hub.Client, data json.RawMessage) {
	var p events.StartBulkOrderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, events.TypeBulkOrderError, "malformed bulk order request")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	evs, err := r.gov.StartBulkOrder(ctx, p.Pincode, c.Identity, p.ProductID, p.ProductName)
	if err != nil {
		r.sendError(c, events.TypeBulkOrderError, err.Error())
		return
	}
	r.dispatch(c, evs)
}

func (r *Router) commitBulkOrder(c *hub.Client, data json.RawMessage) {
	var p events.CommitBulkOrderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, events.TypeBulkOrderError, "malformed commitment")
		return
	}

	evs, err := r.gov.CommitBulkOrder(p.Pincode, c.Identity, p.Quantity)
	if err != nil {
		r.sendError(c, events.TypeBulkOrderError, err.Error())
		return
	}
	r.dispatch(c, evs)
}

func (r *Router) finalizeBulkOrder(c *hub.Client, data json.RawMessage) {
	var p events.FinalizeBulkOrderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, events.TypeBulkOrderError, "malformed finalize request")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	evs, final, err := r.gov.FinalizeBulkOrder(ctx, p.Pincode, c.Identity)
	if err != nil {
		r.sendError(c, events.TypeBulkOrderError, err.Error())
		return
	}
	r.dispatch(c, evs)

	// The room has its snapshot; the downstream hand-off is best effort.
	if err := r.ledger.Publish(ctx, ledger.SubjectBulkOrderFinalized, final); err != nil {
		r.log.Warn("ledger hand-off failed", "pincode", p.Pincode, "error", err)
	}
}

func (r *Router) startMarket(c *hub.Client, data json.RawMessage) {
	var p events.StartMarketPayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, events.TypeMarketError, "malformed market request")
		return
	}

	evs, err := r.market.Start(c.Identity, p.ProductID, p.ProductName, p.StartingPrice, r.now())
	if err != nil {
		r.sendError(c, events.TypeMarketError, err.Error())
		return
	}
	r.dispatch(c, evs)
}

func (r *Router) joinMarket(c *hub.Client, data json.RawMessage) {
	var p events.JoinMarketPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AuctionID == "" {
		r.sendError(c, events.TypeMarketError, "auctionId is required")
		return
	}

	snap, err := r.market.Get(p.AuctionID)
	if err != nil {
		r.sendError(c, events.TypeMarketError, err.Error())
		return
	}

	r.hub.Join(c, market.RoomName(p.AuctionID))
	r.send(c, events.TypeMarketUpdate, snap)
}

func (r *Router) makeBid(c *hub.Client, data json.RawMessage) {
	var p events.MakeBidPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AuctionID == "" {
		r.sendError(c, events.TypeMarketError, "malformed bid")
		return
	}

	evs, err := r.market.PlaceBid(p.AuctionID, c.Identity, p.BidAmount)
	if err != nil {
		r.sendError(c, events.TypeMarketError, err.Error())
		return
	}
	r.dispatch(c, evs)
}

func (r *Router) acceptBid(c *hub.Client, data json.RawMessage) {
	var p events.AcceptBidPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AuctionID == "" {
		r.sendError(c, events.TypeMarketError, "malformed accept request")
		return
	}

	evs, err := r.market.Accept(p.AuctionID, c.Identity, p.VendorID)
	if err != nil {
		r.sendError(c, events.TypeMarketError, err.Error())
		return
	}
	r.dispatch(c, evs)

	// Market rooms die with their auction. Teardown happens after dispatch
	// so the room still exists for the bid_accepted broadcast.
	r.hub.CloseRoom(market.RoomName(p.AuctionID))
}

// dispatch delivers each (audience, event) pair produced by a transition.
func (r *Router) dispatch(c *hub.Client, evs []events.Outbound) {
	for _, ev := range evs {
		payload, err := events.Marshal(ev.Type, ev.Data)
		if err != nil {
			r.log.Error("failed to marshal event", "type", ev.Type, "error", err)
			continue
		}
		switch ev.Scope {
		case events.ScopeCaller:
			r.hub.Send(c, payload)
		case events.ScopeRoom:
			r.hub.BroadcastRoom(ev.Room, payload)
		case events.ScopeGlobal:
			r.hub.BroadcastAll(payload)
		}
	}
}

func (r *Router) send(c *hub.Client, eventType string, data any) {
	payload, err := events.Marshal(eventType, data)
	if err != nil {
		r.log.Error("failed to marshal event", "type", eventType, "error", err)
		return
	}
	r.hub.Send(c, payload)
}

func (r *Router) sendError(c *hub.Client, eventType, message string) {
	r.send(c, eventType, events.ErrorPayload{Message: message})
}
