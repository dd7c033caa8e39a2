package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

func TestCart_AddListRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.product(t, "Kopi", "10000")
	first := env.addToCart(t, p.ID, 2, "  no ice ")
	second := env.addToCart(t, p.ID, 1, "")
	assert.Equal(t, "no ice", first.Note)

	lines, err := env.carts.ListLines(ctx, domain.DefaultCartID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, second.ID, lines[0].ID)
	assert.Equal(t, "20000", lines[1].LineTotal.String())

	require.NoError(t, env.carts.RemoveLine(ctx, domain.DefaultCartID, first.ID))
	assert.ErrorIs(t, env.carts.RemoveLine(ctx, domain.DefaultCartID, first.ID), domain.ErrNotFound)
}

func TestCart_AddLineRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "Kopi", "10000")

	_, err := env.carts.AddLine(ctx, domain.DefaultCartID, p.ID, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = env.carts.AddLine(ctx, domain.DefaultCartID, "", 1, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = env.carts.AddLine(ctx, domain.DefaultCartID, p.ID, domain.MaxLineQuantity+1, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = env.carts.AddLine(ctx, domain.DefaultCartID, p.ID, 1, strings.Repeat("é", domain.MaxNoteLength+1))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = env.carts.AddLine(ctx, domain.DefaultCartID, "missing", 1, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// the limit counts characters, not bytes
	_, err = env.carts.AddLine(ctx, domain.DefaultCartID, p.ID, domain.MaxLineQuantity, strings.Repeat("é", domain.MaxNoteLength))
	require.NoError(t, err)
	assert.Equal(t, 1, env.countRows(t, "cart_lines"))
}
