// Package allocation splits a shipping cost among group-order participants.
package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
)

// Weighted is the allocation input for one participant.
type Weighted struct {
	ID          string
	ItemsCount  int
	TotalWeight float64
}

// FromParticipants adapts participant records to allocator input, keeping order.
func FromParticipants(participants []entity.Participant) []Weighted {
	out := make([]Weighted, 0, len(participants))
	for _, p := range participants {
		out = append(out, Weighted{ID: p.ID, ItemsCount: p.ItemsCount, TotalWeight: p.TotalWeight})
	}
	return out
}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (entity.SplitStrategy, error) {
	switch st := entity.SplitStrategy(s); st {
	case entity.SplitPerItem, entity.SplitPerWeight, entity.SplitEqual:
		return st, nil
	default:
		return "", fmt.Errorf("unknown split strategy %q", s)
	}
}

func weightFactor(p Weighted, strategy entity.SplitStrategy) float64 {
	var w float64
	switch strategy {
	case entity.SplitPerItem:
		w = float64(p.ItemsCount)
	case entity.SplitPerWeight:
		w = p.TotalWeight
	default:
		w = 1
	}
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return 0
	}
	return w
}

// Allocate divides total among participants. The shares always sum to total exactly:
// after independent rounding the residual is handed out one cent at a time starting
// with the participant with the largest weight factor (input order breaks ties), so a
// one cent residual lands on that participant alone. When every weight is zero the
// split is equal.
func Allocate(total money.Cents, participants []Weighted, strategy entity.SplitStrategy) []entity.ShippingShare {
	if len(participants) == 0 {
		return []entity.ShippingShare{}
	}

	weights := make([]float64, len(participants))
	var sum float64
	for i, p := range participants {
		weights[i] = weightFactor(p, strategy)
		sum += weights[i]
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}

	shares := make([]entity.ShippingShare, len(participants))
	var allocated money.Cents
	for i, p := range participants {
		proportion := weights[i] / sum
		cost := money.Cents(math.Round(float64(total) * proportion))
		shares[i] = entity.ShippingShare{
			ParticipantID: p.ID,
			Proportion:    proportion,
			ShippingCost:  cost,
			ItemsCount:    p.ItemsCount,
		}
		allocated += cost
	}

	distributeResidual(shares, weights, total-allocated)
	return shares
}

func distributeResidual(shares []entity.ShippingShare, weights []float64, residual money.Cents) {
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weights[order[a]] > weights[order[b]]
	})

	for residual != 0 {
		moved := false
		for _, i := range order {
			if residual == 0 {
				break
			}
			if residual > 0 {
				shares[i].ShippingCost++
				residual--
				moved = true
			} else if shares[i].ShippingCost > 0 {
				shares[i].ShippingCost--
				residual++
				moved = true
			}
		}
		if !moved {
			return
		}
	}
}

// Sum adds the shipping cost over shares.
func Sum(shares []entity.ShippingShare) money.Cents {
	var total money.Cents
	for _, s := range shares {
		total += s.ShippingCost
	}
	return total
}
