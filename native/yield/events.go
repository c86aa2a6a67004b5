package yield

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tandachain/core/types"
)

const (
	EventTypeDeposited           = "yield.deposited"
	EventTypeClaimed             = "yield.claimed"
	EventTypeCollateralWithdrawn = "yield.collateral_withdrawn"
	EventTypeOptInToggled        = "yield.optin_toggled"
	EventTypeRescued             = "yield.rescued"
	EventTypeReimbursed          = "yield.reimbursed"
	EventTypeRestored            = "yield.balance_restored"
)

func newDepositedEvent(termID uint64, user [20]byte, amount, shares *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposited,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
			"user":   hex.EncodeToString(user[:]),
			"amount": formatAmount(amount),
			"shares": formatAmount(shares),
		},
	}
}

func newClaimedEvent(termID uint64, user, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeClaimed,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
			"user":   hex.EncodeToString(user[:]),
			"to":     hex.EncodeToString(to[:]),
			"amount": formatAmount(amount),
		},
	}
}

func newCollateralWithdrawnEvent(termID uint64, user [20]byte, principal, yieldPaid *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeCollateralWithdrawn,
		Attributes: map[string]string{
			"termId":    strconv.FormatUint(termID, 10),
			"user":      hex.EncodeToString(user[:]),
			"principal": formatAmount(principal),
			"yield":     formatAmount(yieldPaid),
		},
	}
}

func newOptInToggledEvent(termID uint64, user [20]byte, optedIn bool) *types.Event {
	return &types.Event{
		Type: EventTypeOptInToggled,
		Attributes: map[string]string{
			"termId":  strconv.FormatUint(termID, 10),
			"user":    hex.EncodeToString(user[:]),
			"optedIn": strconv.FormatBool(optedIn),
		},
	}
}

func newRescuedEvent(termID uint64, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRescued,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
			"to":     hex.EncodeToString(to[:]),
			"amount": formatAmount(amount),
		},
	}
}

func newReimbursedEvent(termID uint64, user [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeReimbursed,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
			"user":   hex.EncodeToString(user[:]),
			"amount": formatAmount(amount),
		},
	}
}

func newRestoredEvent(termID uint64, user [20]byte, shares *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRestored,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
			"user":   hex.EncodeToString(user[:]),
			"shares": formatAmount(shares),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
