package collateral

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strconv"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tandachain/core/types"
)

const (
	EventTypeDeposited  = "collateral.deposited"
	EventTypeTermFilled = "collateral.term_filled"
	EventTypeWithdrawn  = "collateral.withdrawn"
	EventTypeLiquidated = "collateral.liquidated"
	EventTypeReleased   = "collateral.released"
	EventTypeSwept      = "collateral.swept"
)

// depositReceiptID derives a deterministic receipt identifier for a deposit
// from the term, depositor and amount, mirroring how escrow-style records are
// keyed without storing a nonce.
func depositReceiptID(termID uint64, depositor [20]byte, amount *big.Int) [32]byte {
	var buf []byte
	var term [8]byte
	binary.BigEndian.PutUint64(term[:], termID)
	buf = append(buf, term[:]...)
	buf = append(buf, depositor[:]...)
	if amount != nil {
		buf = append(buf, amount.Bytes()...)
	}
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

func newDepositedEvent(termID uint64, depositor [20]byte, amount *big.Int, position uint64) *types.Event {
	receipt := depositReceiptID(termID, depositor, amount)
	return &types.Event{
		Type: EventTypeDeposited,
		Attributes: map[string]string{
			"termId":    strconv.FormatUint(termID, 10),
			"receipt":   hex.EncodeToString(receipt[:]),
			"depositor": hex.EncodeToString(depositor[:]),
			"amount":    formatAmount(amount),
			"position":  strconv.FormatUint(position, 10),
		},
	}
}

func newTermFilledEvent(termID uint64, members uint64) *types.Event {
	return &types.Event{
		Type: EventTypeTermFilled,
		Attributes: map[string]string{
			"termId":  strconv.FormatUint(termID, 10),
			"members": strconv.FormatUint(members, 10),
		},
	}
}

func newWithdrawnEvent(termID uint64, user, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
			"user":   hex.EncodeToString(user[:]),
			"to":     hex.EncodeToString(to[:]),
			"amount": formatAmount(amount),
		},
	}
}

func newLiquidatedEvent(termID uint64, user [20]byte, shortfall, seized, recovered *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidated,
		Attributes: map[string]string{
			"termId":    strconv.FormatUint(termID, 10),
			"user":      hex.EncodeToString(user[:]),
			"shortfall": formatAmount(shortfall),
			"seized":    formatAmount(seized),
			"recovered": formatAmount(recovered),
		},
	}
}

func newReleasedEvent(termID uint64) *types.Event {
	return &types.Event{
		Type: EventTypeReleased,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
		},
	}
}

func newSweptEvent(termID uint64, user, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeSwept,
		Attributes: map[string]string{
			"termId": strconv.FormatUint(termID, 10),
			"user":   hex.EncodeToString(user[:]),
			"to":     hex.EncodeToString(to[:]),
			"amount": formatAmount(amount),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
