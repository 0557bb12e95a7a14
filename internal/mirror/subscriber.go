package mirror

import (
	"context"

	"github.com/pavelchamgl/reli.one-sub000/internal/basket"
	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
)

// Subscriber turns committed basket changes into mirror jobs. Only baskets
// in server mode are mirrored; a reset drops whatever is still queued for
// the client.
func (q *Queue) Subscriber() basket.Subscriber {
	return basket.SubscriberFunc(func(ctx context.Context, c basket.Change) {
		if c.Kind == basket.ChangeReset {
			q.Drop(c.ClientID)
			return
		}
		if c.Basket == nil || c.Basket.Mode != domain.ModeServer {
			return
		}
		for _, job := range jobsFor(c) {
			q.Enqueue(ctx, job)
		}
	})
}

func jobsFor(c basket.Change) []Job {
	var jobs []Job
	add := func(op Op, item remote.BasketItem) {
		jobs = append(jobs, Job{ClientID: c.ClientID, Op: op, Item: item})
	}

	switch c.Kind {
	case basket.ChangeLineAdded:
		for _, l := range c.Lines {
			add(OpUpsert, remote.ItemFromLine(l))
		}
	case basket.ChangeQuantitySet, basket.ChangeSelected, basket.ChangeSelectedAll:
		for _, l := range c.Lines {
			add(OpUpdate, remote.ItemFromLine(l))
		}
	case basket.ChangeLineRemoved:
		for _, id := range c.Removed {
			add(OpRemove, remote.BasketItem{ProductVariantID: id})
		}
	case basket.ChangeCleared:
		add(OpClear, remote.BasketItem{})
	}
	// lines_replaced and mode_set come from the server basket itself.
	return jobs
}
