// Package market is the global registry of live, single-supplier auctions.
// It owns the bid ledgers, the accept/expire resolution logic, and the
// trading-window gate on auction creation. An auction's lifecycle is
// Created -> Live -> {Resolved | Expired}: both terminal states remove it
// from the registry and emit exactly one market_closed, never both.
package market

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sourcebazaar/realtime/internal/auth"
	"github.com/sourcebazaar/realtime/internal/events"
	"github.com/sourcebazaar/realtime/internal/ledger"
	"github.com/sourcebazaar/realtime/internal/policy"
)

// RoomName returns the broadcast domain for an auction.
func RoomName(auctionID string) string {
	return "market-" + auctionID
}

// Window is the daily time range during which auctions may be started.
// Hours are evaluated in Loc; Close is exclusive.
type Window struct {
	OpenHour  int
	CloseHour int
	Loc       *time.Location
}

// Contains reports whether now falls inside the trading window.
func (w Window) Contains(now time.Time) bool {
	h := now.In(w.Loc).Hour()
	return h >= w.OpenHour && h < w.CloseHour
}

// Bid is one vendor's entry in an auction's ledger. A vendor's latest bid
// replaces any prior one.
type Bid struct {
	Amount float64 `json:"bidAmount"`
	Email  string  `json:"userEmail"`
}

// Snapshot is the wire representation of an auction's current state.
// StartTime and Duration are in milliseconds.
type Snapshot struct {
	AuctionID    string         `json:"auctionId"`
	ProductID    string         `json:"productId"`
	ProductName  string         `json:"productName"`
	SupplierID   string         `json:"supplierId"`
	CurrentPrice float64        `json:"currentPrice"`
	Bids         map[string]Bid `json:"bids"`
	StartTime    int64          `json:"startTime"`
	Duration     int64          `json:"duration"`
}

// BidAcceptedPayload announces the winning bid to the auction room.
type BidAcceptedPayload struct {
	VendorID  string  `json:"vendorId"`
	Email     string  `json:"userEmail"`
	ProductID string  `json:"productId"`
	Price     float64 `json:"price"`
}

// ResolvedBy tags which path closed an auction.
type ResolvedBy int

const (
	ByAccept ResolvedBy = iota
	ByExpiry
)

func (r ResolvedBy) String() string {
	if r == ByAccept {
		return "accept"
	}
	return "expiry"
}

// ClosedRecord is what the ledger-writer receives when an auction resolves.
type ClosedRecord struct {
	Auction    Snapshot `json:"auction"`
	ResolvedBy string   `json:"resolvedBy"`
	WinnerID   string   `json:"winnerId,omitempty"`
	FinalPrice float64  `json:"finalPrice,omitempty"`
}

type auction struct {
	mu sync.Mutex

	id            string
	productID     string
	productName   string
	supplierID    string
	startingPrice float64
	bids          map[string]Bid
	startedAt     time.Time
	duration      time.Duration
	resolved      bool
}

// snapshot must be called with a.mu held.
func (a *auction) snapshot() Snapshot {
	bids := make(map[string]Bid, len(a.bids))
	for k, v := range a.bids {
		bids[k] = v
	}
	return Snapshot{
		AuctionID:    a.id,
		ProductID:    a.productID,
		ProductName:  a.productName,
		SupplierID:   a.supplierID,
		CurrentPrice: a.startingPrice,
		Bids:         bids,
		StartTime:    a.startedAt.UnixMilli(),
		Duration:     a.duration.Milliseconds(),
	}
}

// Broadcaster is the slice of the room registry the engine needs for the
// expiry path, where there is no caller to dispatch returned events.
type Broadcaster interface {
	BroadcastAll(payload []byte)
	CloseRoom(room string)
}

// Engine is the auction registry. The registry lock only guards the map;
// each auction serializes its own transitions, so bids on unrelated
// auctions never contend.
type Engine struct {
	mu       sync.RWMutex
	auctions map[string]*auction

	sched    *Scheduler
	window   Window
	duration time.Duration

	rooms  Broadcaster
	ledger *ledger.Publisher
	log    *slog.Logger
}

func NewEngine(sched *Scheduler, window Window, duration time.Duration, rooms Broadcaster, pub *ledger.Publisher, log *slog.Logger) *Engine {
	return &Engine{
		auctions: make(map[string]*auction),
		sched:    sched,
		window:   window,
		duration: duration,
		rooms:    rooms,
		ledger:   pub,
		log:      log,
	}
}

// Start opens an auction for a supplier. The auction id is the supplier's
// user id, which is what enforces the one-auction-per-supplier invariant.
func (e *Engine) Start(actor auth.Identity, productID, productName string, startingPrice float64, now time.Time) ([]events.Outbound, error) {
	if err := policy.RequireRole(actor, auth.RoleSupplier, "start a market"); err != nil {
		return nil, err
	}
	if !e.window.Contains(now) {
		return nil, policy.Window("markets can only be started between %02d:00 and %02d:00", e.window.OpenHour, e.window.CloseHour)
	}
	if startingPrice <= 0 || math.IsInf(startingPrice, 0) || math.IsNaN(startingPrice) {
		return nil, policy.Validation("starting price must be a positive amount")
	}

	a := &auction{
		id:            actor.UserID,
		productID:     productID,
		productName:   productName,
		supplierID:    actor.UserID,
		startingPrice: startingPrice,
		bids:          make(map[string]Bid),
		startedAt:     now,
		duration:      e.duration,
	}

	e.mu.Lock()
	if _, exists := e.auctions[a.id]; exists {
		e.mu.Unlock()
		return nil, policy.Conflict("you already have an active market")
	}
	e.auctions[a.id] = a
	e.mu.Unlock()

	e.sched.Arm(a.id, e.duration, func() { e.expire(a.id) })
	e.log.Info("market started", "auction", a.id, "product", productName, "price", startingPrice)

	return []events.Outbound{
		events.ToAll(events.TypeNewMarketStarted, a.snapshot()),
	}, nil
}

// Get returns the current snapshot of a live auction.
func (e *Engine) Get(auctionID string) (Snapshot, error) {
	a, err := e.lookup(auctionID)
	if err != nil {
		return Snapshot{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolved {
		return Snapshot{}, notFound()
	}
	return a.snapshot(), nil
}

// Snapshots lists every live auction, for the connect-time snapshot event.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.RLock()
	live := make([]*auction, 0, len(e.auctions))
	for _, a := range e.auctions {
		live = append(live, a)
	}
	e.mu.RUnlock()

	out := make([]Snapshot, 0, len(live))
	for _, a := range live {
		a.mu.Lock()
		if !a.resolved {
			out = append(out, a.snapshot())
		}
		a.mu.Unlock()
	}
	return out
}

// PlaceBid upserts a vendor's bid. A bid must beat the starting price, not
// the other vendors' bids; acceptance is at the supplier's discretion, so
// the ledger keeps every vendor's latest offer.
func (e *Engine) PlaceBid(auctionID string, actor auth.Identity, amount float64) ([]events.Outbound, error) {
	if err := policy.RequireRole(actor, auth.RoleVendor, "place a bid"); err != nil {
		return nil, err
	}

	a, err := e.lookup(auctionID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resolved {
		return nil, notFound()
	}
	if math.IsInf(amount, 0) || math.IsNaN(amount) || amount <= a.startingPrice {
		return nil, policy.Validation("bid must be greater than the starting price of %.2f", a.startingPrice)
	}

	a.bids[actor.UserID] = Bid{Amount: amount, Email: actor.Email}

	return []events.Outbound{
		events.ToRoom(RoomName(a.id), events.TypeMarketUpdate, a.snapshot()),
	}, nil
}

// Accept resolves an auction in the owning supplier's favor of one vendor's
// bid. The caller dispatches the returned events and then tears down the
// market room.
func (e *Engine) Accept(auctionID string, actor auth.Identity, vendorID string) ([]events.Outbound, error) {
	a, err := e.lookup(auctionID)
	if err != nil {
		return nil, err
	}
	if err := policy.RequireOwner(a.supplierID, actor.UserID); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.resolved {
		a.mu.Unlock()
		return nil, notFound()
	}
	winning, ok := a.bids[vendorID]
	a.mu.Unlock()
	if !ok {
		return nil, policy.Validation("selected vendor has not placed a bid")
	}

	snap, ok := e.resolve(a, ByAccept, vendorID, winning.Amount)
	if !ok {
		// Lost the race with expiry; the closing broadcast already went out.
		return nil, notFound()
	}

	e.log.Info("bid accepted", "auction", a.id, "vendor", vendorID, "price", winning.Amount)

	return []events.Outbound{
		events.ToRoom(RoomName(a.id), events.TypeBidAccepted, BidAcceptedPayload{
			VendorID:  vendorID,
			Email:     winning.Email,
			ProductID: snap.ProductID,
			Price:     winning.Amount,
		}),
		events.ToAll(events.TypeMarketClosed, events.MarketClosedPayload{AuctionID: a.id}),
	}, nil
}

// expire is the scheduler's callback. It runs the same resolution path as
// Accept and emits the closing broadcast itself, since no caller exists.
func (e *Engine) expire(auctionID string) {
	a, err := e.lookup(auctionID)
	if err != nil {
		return
	}
	snap, ok := e.resolve(a, ByExpiry, "", 0)
	if !ok {
		return
	}

	e.log.Info("market expired", "auction", auctionID, "bids", len(snap.Bids))

	payload, err := events.Marshal(events.TypeMarketClosed, events.MarketClosedPayload{AuctionID: auctionID})
	if err != nil {
		e.log.Error("failed to marshal market_closed", "auction", auctionID, "error", err)
		return
	}
	e.rooms.BroadcastAll(payload)
	e.rooms.CloseRoom(RoomName(auctionID))
}

// resolve is the single terminal transition both closing paths converge on.
// It reports false if the auction was already resolved, which is how the
// accept/expiry race collapses to exactly one market_closed.
func (e *Engine) resolve(a *auction, by ResolvedBy, winnerID string, finalPrice float64) (Snapshot, bool) {
	a.mu.Lock()
	if a.resolved {
		a.mu.Unlock()
		return Snapshot{}, false
	}
	a.resolved = true
	snap := a.snapshot()
	a.mu.Unlock()

	e.mu.Lock()
	delete(e.auctions, a.id)
	e.mu.Unlock()

	e.sched.Cancel(a.id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record := ClosedRecord{Auction: snap, ResolvedBy: by.String(), WinnerID: winnerID, FinalPrice: finalPrice}
	if err := e.ledger.Publish(ctx, ledger.SubjectMarketClosed, record); err != nil {
		e.log.Warn("ledger hand-off failed", "auction", a.id, "error", err)
	}

	return snap, true
}

func (e *Engine) lookup(auctionID string) (*auction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.auctions[auctionID]
	if !ok {
		return nil, notFound()
	}
	return a, nil
}

func notFound() *policy.Error {
	return policy.NotFound("market not found or has already ended")
}
