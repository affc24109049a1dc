package game

import "github.com/wfunc/mahjongserver/apperr"

// Resolution is the outcome of a vote on a win claim.
type Resolution int

const (
	// ClaimPending means votes are still outstanding.
	ClaimPending Resolution = iota
	// ClaimConfirmed means every other seated player confirmed.
	ClaimConfirmed
	// ClaimDenied means a player denied; the claim is void.
	ClaimDenied
)

// WinClaim tracks a declared win awaiting unanimous confirmation from every
// other seated player.
type WinClaim struct {
	Claimant string
	Votes    map[string]bool
}

// NewWinClaim opens a claim by claimant. Every other player starts unconfirmed.
func NewWinClaim(claimant string, players []string) *WinClaim {
	c := &WinClaim{
		Claimant: claimant,
		Votes:    make(map[string]bool, len(players)),
	}
	for _, p := range players {
		if p != claimant {
			c.Votes[p] = false
		}
	}
	return c
}

// Vote records user's answer. A denial resolves the claim immediately
// regardless of earlier confirmations.
func (c *WinClaim) Vote(user string, confirm bool) (Resolution, error) {
	if _, ok := c.Votes[user]; !ok {
		return ClaimPending, apperr.ErrNotEligible
	}
	if !confirm {
		c.Votes[user] = false
		return ClaimDenied, nil
	}
	c.Votes[user] = true
	for _, ok := range c.Votes {
		if !ok {
			return ClaimPending, nil
		}
	}
	return ClaimConfirmed, nil
}

// Snapshot copies the vote map.
func (c *WinClaim) Snapshot() map[string]bool {
	out := make(map[string]bool, len(c.Votes))
	for k, v := range c.Votes {
		out[k] = v
	}
	return out
}
