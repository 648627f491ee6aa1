// Package governance owns the per-community president designation and the
// two president-gated state machines that live in a community room: the
// singleton poll and the singleton bulk order. All state is in-memory and
// ephemeral; only the community record itself is durable.
package governance

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcebazaar/realtime/internal/auth"
	"github.com/sourcebazaar/realtime/internal/events"
	"github.com/sourcebazaar/realtime/internal/policy"
	"github.com/sourcebazaar/realtime/internal/store"
)

// RoomName returns the broadcast domain for a community.
func RoomName(pincode string) string {
	return "pincode-" + pincode
}

// Poll is the per-room singleton vote tally. Once started it has no end
// transition; it lives until the process exits.
type Poll struct {
	Question string         `json:"question"`
	Options  map[string]int `json:"options"`
	Voters   []string       `json:"voters"`
}

// BulkOrder is the per-room singleton group commitment.
type BulkOrder struct {
	ProductID   string         `json:"productId"`
	ProductName string         `json:"productName"`
	InitiatorID string         `json:"initiator"`
	Commitments map[string]int `json:"commitments"`
	Total       int            `json:"total"`
}

// FinalizedBulkOrder is the terminal snapshot broadcast to the room and
// handed to the ledger-writer.
type FinalizedBulkOrder struct {
	Message string    `json:"message"`
	Details BulkOrder `json:"details"`
}

type roomState struct {
	mu   sync.Mutex
	poll *Poll
	bulk *BulkOrder
}

// Engine serializes governance transitions per community room. Unrelated
// rooms never contend: each room carries its own lock, and the engine-level
// lock only guards the room map itself.
type Engine struct {
	mu          sync.Mutex
	rooms       map[string]*roomState
	communities store.CommunityStore
}

func NewEngine(communities store.CommunityStore) *Engine {
	return &Engine{
		rooms:       make(map[string]*roomState),
		communities: communities,
	}
}

func (e *Engine) room(pincode string) *roomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.rooms[pincode]
	if !ok {
		rs = &roomState{}
		e.rooms[pincode] = rs
	}
	return rs
}

// president reads the durable community record and checks the actor against
// it. A missing record fails the check the same way a mismatch does.
func (e *Engine) president(ctx context.Context, pincode, userID, action string) *policy.Error {
	community, err := e.communities.Get(ctx, pincode)
	if errors.Is(err, store.ErrNotFound) {
		return policy.RequirePresident("", userID, action)
	}
	if err != nil {
		return policy.Upstream(err, "look up the community")
	}
	return policy.RequirePresident(community.PresidentID, userID, action)
}

// Snapshot returns copies of the room's active poll and bulk order, for
// rehydrating a session that just joined. Either may be nil.
func (e *Engine) Snapshot(pincode string) (*Poll, *BulkOrder) {
	rs := e.room(pincode)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var poll *Poll
	if rs.poll != nil {
		p := copyPoll(rs.poll)
		poll = &p
	}
	var bulk *BulkOrder
	if rs.bulk != nil {
		b := copyBulkOrder(rs.bulk)
		bulk = &b
	}
	return poll, bulk
}

// StartPoll creates the room's poll with zero-initialized tallies.
func (e *Engine) StartPoll(ctx context.Context, pincode string, actor auth.Identity, question string, options []string) ([]events.Outbound, error) {
	if question == "" || len(options) == 0 {
		return nil, policy.Validation("a poll needs a question and at least one option")
	}
	if err := e.president(ctx, pincode, actor.UserID, "start a poll"); err != nil {
		return nil, err
	}

	rs := e.room(pincode)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.poll != nil {
		return nil, policy.Conflict("a poll is already active in this community")
	}

	tallies := make(map[string]int, len(options))
	for _, option := range options {
		tallies[option] = 0
	}
	rs.poll = &Poll{Question: question, Options: tallies, Voters: []string{}}

	return []events.Outbound{
		events.ToRoom(RoomName(pincode), events.TypeNewPoll, copyPoll(rs.poll)),
	}, nil
}

// Vote records one vote. A user's vote counts at most once; the rejection
// of a repeat vote is reported to the caller only, never to the room.
func (e *Engine) Vote(pincode string, actor auth.Identity, option string) ([]events.Outbound, error) {
	rs := e.room(pincode)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	poll := rs.poll
	if poll == nil {
		return nil, policy.NotFound("no poll is active in this community")
	}
	if _, known := poll.Options[option]; !known {
		return nil, policy.Validation("unknown poll option")
	}
	for _, voter := range poll.Voters {
		if voter == actor.UserID {
			return nil, policy.Conflict("you have already voted in this poll")
		}
	}

	poll.Options[option]++
	poll.Voters = append(poll.Voters, actor.UserID)

	return []events.Outbound{
		events.ToRoom(RoomName(pincode), events.TypePollUpdate, copyPoll(poll)),
	}, nil
}

// StartBulkOrder creates the room's bulk order.
func (e *Engine) StartBulkOrder(ctx context.Context, pincode string, actor auth.Identity, productID, productName string) ([]events.Outbound, error) {
	if productID == "" {
		return nil, policy.Validation("a bulk order needs a product")
	}
	if err := e.president(ctx, pincode, actor.UserID, "start a bulk order"); err != nil {
		return nil, err
	}

	rs := e.room(pincode)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.bulk != nil {
		return nil, policy.Conflict("a bulk order is already active in this community")
	}

	rs.bulk = &BulkOrder{
		ProductID:   productID,
		ProductName: productName,
		InitiatorID: actor.UserID,
		Commitments: make(map[string]int),
	}

	return []events.Outbound{
		events.ToRoom(RoomName(pincode), events.TypeNewBulkOrder, copyBulkOrder(rs.bulk)),
	}, nil
}

// CommitBulkOrder records a member's quantity. Re-committing overwrites the
// prior quantity; zero withdraws.
func (e *Engine) CommitBulkOrder(pincode string, actor auth.Identity, quantity int) ([]events.Outbound, error) {
	if quantity < 0 {
		return nil, policy.Validation("commitment quantity cannot be negative")
	}

	rs := e.room(pincode)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	bulk := rs.bulk
	if bulk == nil {
		return nil, policy.NotFound("no bulk order is active in this community")
	}

	previous := bulk.Commitments[actor.UserID]
	bulk.Commitments[actor.UserID] = quantity
	bulk.Total = bulk.Total - previous + quantity

	return []events.Outbound{
		events.ToRoom(RoomName(pincode), events.TypeBulkOrderUpdate, copyBulkOrder(bulk)),
	}, nil
}

// FinalizeBulkOrder emits the terminal snapshot and destroys the bulk order.
// Forwarding the commitments into an order workflow is the ledger-writer's
// job; this engine's responsibility ends at the snapshot.
func (e *Engine) FinalizeBulkOrder(ctx context.Context, pincode string, actor auth.Identity) ([]events.Outbound, FinalizedBulkOrder, error) {
	if err := e.president(ctx, pincode, actor.UserID, "finalize the bulk order"); err != nil {
		return nil, FinalizedBulkOrder{}, err
	}

	rs := e.room(pincode)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	bulk := rs.bulk
	if bulk == nil {
		return nil, FinalizedBulkOrder{}, policy.NotFound("no bulk order is active in this community")
	}

	final := FinalizedBulkOrder{
		Message: "Bulk order for " + bulk.ProductName + " finalized!",
		Details: copyBulkOrder(bulk),
	}
	rs.bulk = nil

	return []events.Outbound{
		events.ToRoom(RoomName(pincode), events.TypeBulkOrderFinalized, final),
	}, final, nil
}

// Copies are taken under the room lock so the dispatched payloads can be
// marshaled later without racing concurrent transitions.

func copyPoll(p *Poll) Poll {
	options := make(map[string]int, len(p.Options))
	for k, v := range p.Options {
		options[k] = v
	}
	voters := make([]string, len(p.Voters))
	copy(voters, p.Voters)
	return Poll{Question: p.Question, Options: options, Voters: voters}
}

func copyBulkOrder(b *BulkOrder) BulkOrder {
	commitments := make(map[string]int, len(b.Commitments))
	for k, v := range b.Commitments {
		commitments[k] = v
	}
	out := *b
	out.Commitments = commitments
	return out
}
