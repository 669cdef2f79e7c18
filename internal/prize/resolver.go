// Package prize draws weighted prizes and commits their stock.
package prize

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"loyalty_service/internal/lock"
	"loyalty_service/internal/model"
	"loyalty_service/internal/store"
)

var (
	ErrNoPrizes       = errors.New("wheel has no prizes")
	ErrPrizeExhausted = errors.New("prize out of stock")
)

// Source yields uniform integers in [0, n).
type Source interface {
	Int64N(n int64) int64
}

type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Int64N(n)
}

// NewSource returns a goroutine-safe PCG source.
func NewSource(seed1, seed2 uint64) Source {
	return &lockedSource{r: rand.New(rand.NewPCG(seed1, seed2))}
}

type Resolver struct {
	repo Repository
	src  Source
}

func NewResolver(repo Repository, src Source) *Resolver {
	if src == nil {
		src = NewSource(rand.Uint64(), rand.Uint64())
	}
	return &Resolver{repo: repo, src: src}
}

// Draw picks a prize by weight among those still in stock. When nothing is
// in stock it returns the first retry or empty prize, or failing that the
// first prize of the list. Non-positive weights are never drawn.
func (r *Resolver) Draw(prizes []model.Prize) (model.Prize, error) {
	if len(prizes) == 0 {
		return model.Prize{}, ErrNoPrizes
	}

	available := make([]model.Prize, 0, len(prizes))
	for _, p := range prizes {
		if p.Available() {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		if fb, ok := Fallback(prizes); ok {
			return fb, nil
		}
		return prizes[0], nil
	}

	var total int64
	for _, p := range available {
		if p.Probability > 0 {
			total += p.Probability
		}
	}
	if total <= 0 {
		return available[0], nil
	}

	pick := r.src.Int64N(total) + 1
	var acc int64
	for _, p := range available {
		if p.Probability <= 0 {
			continue
		}
		acc += p.Probability
		if acc >= pick {
			return p, nil
		}
	}
	return available[len(available)-1], nil
}

// Commit takes the winner's unit of stock under its stock lock. If the
// locked read shows the prize ran out after the draw, the first retry or
// empty prize stands in; without one the draw fails with ErrPrizeExhausted.
// Fallback prizes never consume stock.
func (r *Resolver) Commit(ctx context.Context, tx *store.Tx, prizes []model.Prize, winner model.Prize) (model.Prize, error) {
	if winner.Stock == nil {
		return winner, nil
	}
	if err := tx.Lock(ctx, lock.Prize(winner.ID)); err != nil {
		return model.Prize{}, err
	}

	stock, err := r.repo.PrizeStock(ctx, tx.DB, winner.ID)
	if err != nil {
		return model.Prize{}, err
	}
	if stock == nil {
		winner.Stock = nil
		return winner, nil
	}
	if *stock > 0 {
		if err := r.repo.DecrementStock(ctx, tx.DB, winner.ID); err != nil {
			return model.Prize{}, err
		}
		left := *stock - 1
		winner.Stock = &left
		return winner, nil
	}

	if winner.IsFallback() {
		return winner, nil
	}
	if fb, ok := Fallback(prizes); ok {
		return fb, nil
	}
	return model.Prize{}, fmt.Errorf("%w: %s", ErrPrizeExhausted, winner.Title)
}

// Fallback returns the first retry or empty prize.
func Fallback(prizes []model.Prize) (model.Prize, bool) {
	for _, p := range prizes {
		if p.IsFallback() {
			return p, true
		}
	}
	return model.Prize{}, false
}
