package order

import (
	"context"
	"fmt"
	"time"
)

// Sequencer issues the next daily sequence for the calendar day starting at
// day. Issued values are candidates: the repository's uniqueness constraint
// has the final word.
type Sequencer interface {
	Next(ctx context.Context, day time.Time) (int, error)
}

// StoreSequencer derives the next sequence by scanning the day's orders.
type StoreSequencer struct {
	repo Repository
}

func NewStoreSequencer(repo Repository) *StoreSequencer {
	return &StoreSequencer{repo: repo}
}

func (s *StoreSequencer) Next(ctx context.Context, day time.Time) (int, error) {
	numbers, err := s.repo.ListNumbersCreatedBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("scan order numbers: %w", err)
	}
	return NextSequence(numbers), nil
}
