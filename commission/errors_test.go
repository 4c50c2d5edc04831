package commission_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/estatecrm/commission-engine/commission"
)

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, commission.IsNotFound(commission.ErrSellerNotFound))
	assert.True(t, commission.IsNotFound(fmt.Errorf("plot x: %w", commission.ErrNotFound)))

	ise := &commission.InvalidStateError{PlotID: "plot-1", Reason: "no broker assigned"}
	assert.True(t, commission.IsInvalidState(ise))
	assert.Equal(t, "invalid state for plot plot-1: no broker assigned", ise.Error())

	cause := errors.New("disk full")
	se := &commission.StoreError{Op: "insert", Err: cause}
	assert.True(t, commission.IsStoreFailure(se))
	assert.True(t, errors.Is(se, cause))
	assert.False(t, commission.IsNotFound(se))

	assert.True(t, commission.IsRetryable(fmt.Errorf("wallet: %w", commission.ErrConcurrentModification)))
	assert.False(t, commission.IsRetryable(se))
}

func TestWalletAdjusted(t *testing.T) {
	w := commission.Wallet{OwnerID: "a", DirectSaleBalance: dec("100"), DownlineSaleBalance: dec("50"), TotalBalance: dec("150")}

	next, clamped := w.Adjusted(commission.CategoryDownline, dec("-80"))

	assert.True(t, clamped)
	assertDecimal(t, "0", next.DownlineSaleBalance)
	assertDecimal(t, "100", next.TotalBalance)
	assert.Equal(t, int64(1), next.Version)
	assertDecimal(t, "50", w.DownlineSaleBalance, "receiver is not mutated")
}
