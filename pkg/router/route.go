package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/playforge/arcadia/internal/logger"
)

// Route validates a message, selects its targets, and fans the payload out
// in parallel. Rejections return ErrRouteInvalid alongside a result carrying
// the reason.
func (r *Router) Route(ctx context.Context, msg *Message) (*Result, error) {
	start := time.Now()
	if msg.ID == "" {
		msg.ID = newMessageID()
	}

	if reason := r.validate(msg); reason != "" {
		res := &Result{MessageID: msg.ID, Rejected: true, Reason: reason, Failed: 1}
		r.stats.rejected(msg.Kind)
		logger.DebugCtx(ctx, "message rejected", "message_id", msg.ID, "reason", reason)
		return res, fmt.Errorf("%w: %s", ErrRouteInvalid, reason)
	}

	targets := r.selectTargets(msg)
	res := &Result{MessageID: msg.ID, Selected: len(targets)}
	if len(targets) == 0 {
		r.stats.processed(msg.Kind, true, time.Since(start))
		return res, nil
	}

	type outcome struct {
		receiverID string
		err        error
		at         time.Time
	}
	outcomes := make([]outcome, len(targets))

	var wg sync.WaitGroup
	for i, rcv := range targets {
		wg.Add(1)
		go func(i int, rcv *Receiver) {
			defer wg.Done()
			sctx := ctx
			if r.cfg.DeliveryTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(ctx, r.cfg.DeliveryTimeout)
				defer cancel()
			}
			err := rcv.sender.Send(sctx, msg.Payload)
			outcomes[i] = outcome{receiverID: rcv.ID, err: err, at: time.Now()}
		}(i, rcv)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			res.Failed++
			logger.DebugCtx(ctx, "delivery failed",
				"message_id", msg.ID, logger.KeyConnID, o.receiverID,
				logger.KeyError, o.err.Error())
		} else {
			res.Delivered++
		}
		if msg.RequireAck {
			res.Acks = append(res.Acks, Ack{
				MessageID:   msg.ID,
				ReceiverID:  o.receiverID,
				OK:          o.err == nil,
				ProcessedAt: o.at,
			})
		}
	}

	r.stats.processed(msg.Kind, res.Failed == 0, time.Since(start))
	return res, nil
}

// RouteBatch groups messages by target kind, orders each group by priority,
// and processes them with bounded concurrency. Results come back in input
// order.
func (r *Router) RouteBatch(ctx context.Context, msgs []*Message) []*Result {
	if len(msgs) == 0 {
		return nil
	}

	// Stable order: group by kind, then priority high-first within a group.
	order := make([]int, len(msgs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma, mb := msgs[order[a]], msgs[order[b]]
		if ma.Kind != mb.Kind {
			return ma.Kind < mb.Kind
		}
		return ma.Priority > mb.Priority
	})

	sem := semaphore.NewWeighted(r.cfg.MaxConcurrentMessages)
	results := make([]*Result, len(msgs))

	var wg sync.WaitGroup
	for _, idx := range order {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[idx] = &Result{
				MessageID: msgs[idx].ID, Rejected: true,
				Reason: "batch cancelled", Failed: 1,
			}
			continue
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)
			res, _ := r.Route(ctx, msgs[idx])
			results[idx] = res
		}(idx)
	}
	wg.Wait()
	return results
}

// validate returns a rejection reason, or "" for a routable message.
func (r *Router) validate(msg *Message) string {
	maxHops := msg.MaxHops
	if maxHops <= 0 {
		maxHops = r.cfg.DefaultMaxHops
	}
	switch {
	case msg.Hops >= maxHops:
		return fmt.Sprintf("hop budget exhausted (%d/%d)", msg.Hops, maxHops)
	case !msg.Deadline.IsZero() && time.Now().After(msg.Deadline):
		return "deadline passed"
	case len(msg.Payload) == 0:
		return "empty payload"
	}

	switch msg.Kind {
	case Unicast, Multicast:
		if len(msg.Targets) == 0 {
			return "no targets"
		}
	case Room, Area, Role:
		if msg.Target == "" {
			return "no target id"
		}
	case Broadcast:
	default:
		return fmt.Sprintf("unknown target kind %q", msg.Kind)
	}
	return ""
}

// selectTargets picks the online receivers matching the message's audience.
func (r *Router) selectTargets(msg *Message) []*Receiver {
	excluded := make(map[string]struct{}, len(msg.Exclude))
	for _, id := range msg.Exclude {
		excluded[id] = struct{}{}
	}

	var metaKey string
	switch msg.Kind {
	case Room:
		metaKey = "room"
	case Area:
		metaKey = "area"
	case Role:
		metaKey = "role"
	}

	wanted := make(map[string]struct{}, len(msg.Targets))
	for _, id := range msg.Targets {
		wanted[id] = struct{}{}
	}

	var out []*Receiver
	for _, rcv := range r.snapshot() {
		if _, skip := excluded[rcv.ID]; skip {
			continue
		}
		if !rcv.presence.Online() {
			continue
		}
		switch msg.Kind {
		case Unicast, Multicast:
			if _, ok := wanted[rcv.ID]; !ok {
				continue
			}
		case Room, Area, Role:
			if rcv.presence.Meta(metaKey) != msg.Target {
				continue
			}
		}
		out = append(out, rcv)
	}
	return out
}
