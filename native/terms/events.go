package terms

import (
	"encoding/hex"
	"strconv"

	"tandachain/core/types"
)

const EventTypeTermCreated = "term.created"

func newTermCreatedEvent(term *types.Term) *types.Event {
	return &types.Event{
		Type: EventTypeTermCreated,
		Attributes: map[string]string{
			"termId":       strconv.FormatUint(term.ID, 10),
			"owner":        hex.EncodeToString(term.Owner[:]),
			"participants": strconv.FormatUint(term.TotalParticipants, 10),
			"contribution": term.ContributionAmount.String(),
			"stableToken":  term.StableToken,
		},
	}
}
