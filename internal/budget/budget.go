// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget splits a model's fixed context window between history,
// prompt and answer.
//
// Lengths are measured in characters (runes) and converted to tokens with a
// fixed chars-per-token ratio. With the default ratio
// of 3 and a 4096 token window the history may use at most 8601
// characters.
package budget

import (
	"math"

	"github.com/jeranaias/cleanllm/internal/model"
)

// Default parameters.
const (
	DefaultCharsPerToken   = 3.0
	DefaultHistoryFraction = 0.7
	DefaultAnswerMargin    = 100
	DefaultMinAnswer       = 200
)

// Params describes the context window and the split policy.
// Zero values take the defaults.
type Params struct {
	// Capacity is the context size C in tokens.
	Capacity int
	// CharsPerToken is the conversion ratio R.
	CharsPerToken float64
	// HistoryFraction is the share f of the window available to history.
	HistoryFraction float64
	// AnswerMargin is held back from the answer for template tokens.
	AnswerMargin int
	// MinAnswer is the floor for the answer token budget.
	MinAnswer int
}

func (p Params) withDefaults() Params {
	if p.CharsPerToken <= 0 {
		p.CharsPerToken = DefaultCharsPerToken
	}
	if p.HistoryFraction <= 0 {
		p.HistoryFraction = DefaultHistoryFraction
	}
	if p.AnswerMargin <= 0 {
		p.AnswerMargin = DefaultAnswerMargin
	}
	if p.MinAnswer <= 0 {
		p.MinAnswer = DefaultMinAnswer
	}
	return p
}

// BudgetChars returns floor(C * f * R).
func (p Params) BudgetChars() int {
	p = p.withDefaults()
	return int(math.Floor(float64(p.Capacity) * p.HistoryFraction * p.CharsPerToken))
}

// Result is the outcome of Compute.
type Result struct {
	// History is the kept suffix of the input, oldest first.
	History []model.Message
	// MaxAnswerTokens bounds the generated answer.
	MaxAnswerTokens int
	// CharsUsed is the total length of History.
	CharsUsed int
	// BudgetChars is the history allowance the trim was made against.
	BudgetChars int
}

// Dropped reports how many messages were trimmed from the front.
func (r Result) Dropped(total int) int {
	return total - len(r.History)
}

// Compute keeps the longest suffix of history whose total length fits the
// history budget and sizes the answer from what remains of the window.
// Messages are never split. If the newest message alone exceeds the budget
// the kept history is empty.
func Compute(history []model.Message, promptLen int, p Params) Result {
	p = p.withDefaults()
	budget := p.BudgetChars()

	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := history[i].Len()
		if used+n > budget {
			break
		}
		used += n
		start = i
	}

	kept := make([]model.Message, len(history)-start)
	copy(kept, history[start:])

	usedTokens := int(math.Ceil(float64(used+promptLen) / p.CharsPerToken))
	maxAnswer := max(p.MinAnswer, p.Capacity-usedTokens-p.AnswerMargin)

	return Result{
		History:         kept,
		MaxAnswerTokens: maxAnswer,
		CharsUsed:       used,
		BudgetChars:     budget,
	}
}
