// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/cleanllm/internal/model"
)

func msg(role model.Role, n int) model.Message {
	return model.Message{Role: role, Content: strings.Repeat("x", n)}
}

func TestBudgetChars(t *testing.T) {
	assert.Equal(t, 8601, Params{Capacity: 4096, CharsPerToken: 3, HistoryFraction: 0.7}.BudgetChars())
	// Defaults give the same answer.
	assert.Equal(t, 8601, Params{Capacity: 4096}.BudgetChars())
	assert.Equal(t, 0, Params{}.BudgetChars())
}

func TestComputeKeepsMostRecentWholeMessages(t *testing.T) {
	history := []model.Message{
		msg(model.RoleUser, 3000),
		msg(model.RoleAssistant, 3000),
		msg(model.RoleUser, 3000),
	}
	history[1].Content = strings.Repeat("y", 3000)
	history[2].Content = strings.Repeat("z", 3000)

	r := Compute(history, 0, Params{Capacity: 4096})

	require.Len(t, r.History, 2)
	assert.Equal(t, history[1], r.History[0])
	assert.Equal(t, history[2], r.History[1])
	assert.Equal(t, 6000, r.CharsUsed)
	assert.Equal(t, 8601, r.BudgetChars)
	assert.Equal(t, 1, r.Dropped(len(history)))
}

func TestComputeAnswerTokens(t *testing.T) {
	history := []model.Message{msg(model.RoleUser, 300), msg(model.RoleAssistant, 300)}

	r := Compute(history, 100, Params{Capacity: 4096})

	// ceil((600+100)/3) = 234; 4096-234-100 = 3762
	assert.Equal(t, 3762, r.MaxAnswerTokens)
}

func TestComputeAnswerFloor(t *testing.T) {
	r := Compute(nil, 20000, Params{Capacity: 4096})
	assert.Empty(t, r.History)
	assert.Equal(t, DefaultMinAnswer, r.MaxAnswerTokens)
}

func TestComputeNewestAloneTooLarge(t *testing.T) {
	history := []model.Message{
		msg(model.RoleUser, 10),
		msg(model.RoleAssistant, 9000),
	}

	r := Compute(history, 0, Params{Capacity: 4096})

	assert.Empty(t, r.History)
	assert.Zero(t, r.CharsUsed)
}

func TestComputeCountsRunes(t *testing.T) {
	// 3 runes, 9 bytes.
	history := []model.Message{{Role: model.RoleUser, Content: "日本語"}}

	r := Compute(history, 0, Params{Capacity: 2, CharsPerToken: 3, HistoryFraction: 0.5})

	// budget = floor(2*0.5*3) = 3
	require.Len(t, r.History, 1)
	assert.Equal(t, 3, r.CharsUsed)
}

func TestComputeBoundProperty(t *testing.T) {
	sizes := []int{1, 17, 400, 2500, 6000, 3, 999, 8601, 8602, 50}
	for capacity := 256; capacity <= 8192; capacity *= 2 {
		for start := range sizes {
			var history []model.Message
			for i, n := range sizes[start:] {
				role := model.RoleUser
				if i%2 == 1 {
					role = model.RoleAssistant
				}
				history = append(history, msg(role, n))
			}

			p := Params{Capacity: capacity}
			r := Compute(history, 42, p)

			assert.LessOrEqual(t, r.CharsUsed, p.BudgetChars())
			assert.GreaterOrEqual(t, r.MaxAnswerTokens, DefaultMinAnswer)

			// The kept messages are a suffix of the input, in order.
			offset := len(history) - len(r.History)
			total := 0
			for i, m := range r.History {
				assert.Equal(t, history[offset+i], m)
				total += m.Len()
			}
			assert.Equal(t, total, r.CharsUsed)

			// Adding the next older message would exceed the budget.
			if offset > 0 {
				assert.Greater(t, total+history[offset-1].Len(), p.BudgetChars())
			}
		}
	}
}

func TestComputeDoesNotAliasInput(t *testing.T) {
	history := []model.Message{msg(model.RoleUser, 5)}
	r := Compute(history, 0, Params{Capacity: 4096})
	r.History[0].Content = "changed"
	assert.Equal(t, "xxxxx", history[0].Content)
}
