package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"stablevault/native/cdp"
)

var (
	// ErrNoRounds is returned before the first answer is pushed.
	ErrNoRounds = errors.New("oracle: no rounds reported")
	// ErrUnknownRound is returned for round ids that were never reported.
	ErrUnknownRound = errors.New("oracle: unknown round")
)

// Aggregator is an in-process round-data price feed with FeedDecimals of
// precision. It keeps every round it was given.
type Aggregator struct {
	mu          sync.RWMutex
	description string
	rounds      []cdp.RoundData
}

// NewAggregator returns an empty feed.
func NewAggregator(description string) *Aggregator {
	return &Aggregator{description: description}
}

func (a *Aggregator) Decimals() uint8 { return cdp.FeedDecimals }

func (a *Aggregator) Description() string { return a.description }

// UpdateAnswer starts a new round with answer reported at the given time.
// The answer is stored as given; consumers decide whether it is usable.
func (a *Aggregator) UpdateAnswer(answer *big.Int, at time.Time) (uint64, error) {
	if answer == nil {
		return 0, fmt.Errorf("oracle: answer required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uint64(len(a.rounds) + 1)
	a.rounds = append(a.rounds, cdp.RoundData{
		RoundID:         id,
		Answer:          new(big.Int).Set(answer),
		StartedAt:       at,
		UpdatedAt:       at,
		AnsweredInRound: id,
	})
	return id, nil
}

// LatestRoundData returns the most recent round.
func (a *Aggregator) LatestRoundData(ctx context.Context) (cdp.RoundData, error) {
	if err := ctx.Err(); err != nil {
		return cdp.RoundData{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.rounds) == 0 {
		return cdp.RoundData{}, ErrNoRounds
	}
	return cloneRound(a.rounds[len(a.rounds)-1]), nil
}

// RoundData returns a historical round.
func (a *Aggregator) RoundData(id uint64) (cdp.RoundData, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if id == 0 || id > uint64(len(a.rounds)) {
		return cdp.RoundData{}, fmt.Errorf("%w: %d", ErrUnknownRound, id)
	}
	return cloneRound(a.rounds[id-1]), nil
}

func cloneRound(round cdp.RoundData) cdp.RoundData {
	round.Answer = new(big.Int).Set(round.Answer)
	return round
}
