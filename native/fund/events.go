package fund

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tandachain/core/types"
)

const (
	EventTypeTermStarted         = "fund.term_started"
	EventTypeTermExpired         = "fund.term_expired"
	EventTypeTermClosed          = "fund.term_closed"
	EventTypeCycleStarted        = "fund.cycle_started"
	EventTypeContributionPaid    = "fund.contribution_paid"
	EventTypeParticipantDefault  = "fund.participant_defaulted"
	EventTypeBeneficiaryAwarded  = "fund.beneficiary_awarded"
	EventTypePotFrozen           = "fund.pot_frozen"
	EventTypeFrozenPotLiquidated = "fund.frozen_pot_liquidated"
	EventTypeDefaulterExpelled   = "fund.defaulter_expelled"
	EventTypeWithdrawn           = "fund.withdrawn"
)

func termAttrs(termID uint64) map[string]string {
	return map[string]string{"termId": strconv.FormatUint(termID, 10)}
}

func newTermStartedEvent(termID, cycles uint64) *types.Event {
	attrs := termAttrs(termID)
	attrs["cycles"] = strconv.FormatUint(cycles, 10)
	return &types.Event{Type: EventTypeTermStarted, Attributes: attrs}
}

func newTermExpiredEvent(termID uint64) *types.Event {
	return &types.Event{Type: EventTypeTermExpired, Attributes: termAttrs(termID)}
}

func newTermClosedEvent(termID uint64) *types.Event {
	return &types.Event{Type: EventTypeTermClosed, Attributes: termAttrs(termID)}
}

func newCycleStartedEvent(termID, cycle uint64) *types.Event {
	attrs := termAttrs(termID)
	attrs["cycle"] = strconv.FormatUint(cycle, 10)
	return &types.Event{Type: EventTypeCycleStarted, Attributes: attrs}
}

func newContributionPaidEvent(termID, cycle uint64, payer, participant [20]byte, amount *big.Int) *types.Event {
	attrs := termAttrs(termID)
	attrs["cycle"] = strconv.FormatUint(cycle, 10)
	attrs["payer"] = hex.EncodeToString(payer[:])
	attrs["participant"] = hex.EncodeToString(participant[:])
	attrs["amount"] = formatAmount(amount)
	return &types.Event{Type: EventTypeContributionPaid, Attributes: attrs}
}

func newParticipantDefaultedEvent(termID, cycle uint64, participant [20]byte) *types.Event {
	attrs := termAttrs(termID)
	attrs["cycle"] = strconv.FormatUint(cycle, 10)
	attrs["participant"] = hex.EncodeToString(participant[:])
	return &types.Event{Type: EventTypeParticipantDefault, Attributes: attrs}
}

func newBeneficiaryAwardedEvent(termID, cycle uint64, beneficiary [20]byte, pot, potNative *big.Int, frozen bool) *types.Event {
	eventType := EventTypeBeneficiaryAwarded
	if frozen {
		eventType = EventTypePotFrozen
	}
	attrs := termAttrs(termID)
	attrs["cycle"] = strconv.FormatUint(cycle, 10)
	attrs["beneficiary"] = hex.EncodeToString(beneficiary[:])
	attrs["pot"] = formatAmount(pot)
	attrs["potNative"] = formatAmount(potNative)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newFrozenPotLiquidatedEvent(termID, cycle uint64, defaulter [20]byte, amount *big.Int) *types.Event {
	attrs := termAttrs(termID)
	attrs["cycle"] = strconv.FormatUint(cycle, 10)
	attrs["defaulter"] = hex.EncodeToString(defaulter[:])
	attrs["amount"] = formatAmount(amount)
	return &types.Event{Type: EventTypeFrozenPotLiquidated, Attributes: attrs}
}

func newDefaulterExpelledEvent(termID, cycle uint64, participant [20]byte, beforeBeneficiary bool) *types.Event {
	attrs := termAttrs(termID)
	attrs["cycle"] = strconv.FormatUint(cycle, 10)
	attrs["participant"] = hex.EncodeToString(participant[:])
	attrs["beforeBeneficiary"] = strconv.FormatBool(beforeBeneficiary)
	return &types.Event{Type: EventTypeDefaulterExpelled, Attributes: attrs}
}

func newFundWithdrawnEvent(termID uint64, participant, to [20]byte, amount, amountNative *big.Int) *types.Event {
	attrs := termAttrs(termID)
	attrs["participant"] = hex.EncodeToString(participant[:])
	attrs["to"] = hex.EncodeToString(to[:])
	attrs["amount"] = formatAmount(amount)
	attrs["amountNative"] = formatAmount(amountNative)
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
