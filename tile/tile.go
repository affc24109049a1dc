// Package tile builds, shuffles and deals the 136-tile mahjong set.
package tile

import (
	"fmt"
	"math/rand"
)

// Suit 牌的花色
type Suit string

const (
	Characters Suit = "CHARACTERS" // 万子
	Dots       Suit = "DOTS"       // 筒子
	Bamboo     Suit = "BAMBOO"     // 条子
	Winds      Suit = "WINDS"      // 风牌: 1..4 = east, south, west, north
	Dragons    Suit = "DRAGONS"    // 箭牌: 1..3 = red, green, white
)

const (
	// DeckSize is the number of tiles in a full set.
	DeckSize = 136
	// HandSize is the number of tiles dealt to every seat.
	HandSize = 13
	// MinPlayers and MaxPlayers bound the seat count Deal accepts.
	MinPlayers = 2
	MaxPlayers = 4

	copiesPerRank = 4
)

// Tile is a single tile. ID is unique within one deck.
type Tile struct {
	Suit Suit `json:"suit"`
	Rank int  `json:"rank"`
	ID   int  `json:"id"`
}

func (t Tile) String() string {
	return fmt.Sprintf("%s-%d(%d)", t.Suit, t.Rank, t.ID)
}

// suitRanks lists suits in deck order with their rank count.
var suitRanks = []struct {
	suit  Suit
	ranks int
}{
	{Characters, 9},
	{Dots, 9},
	{Bamboo, 9},
	{Winds, 4},
	{Dragons, 3},
}

// BuildDeck returns the canonical deck in a fixed order with ids 1..136.
func BuildDeck() []Tile {
	deck := make([]Tile, 0, DeckSize)
	id := 1
	for _, sr := range suitRanks {
		for rank := 1; rank <= sr.ranks; rank++ {
			for c := 0; c < copiesPerRank; c++ {
				deck = append(deck, Tile{Suit: sr.suit, Rank: rank, ID: id})
				id++
			}
		}
	}
	return deck
}

// Shuffle returns a shuffled copy of deck. A nil rng uses the auto-seeded
// global source, which is safe for concurrent use.
func Shuffle(deck []Tile, rng *rand.Rand) []Tile {
	out := make([]Tile, len(deck))
	copy(out, deck)
	swap := func(i, j int) { out[i], out[j] = out[j], out[i] }
	if rng == nil {
		rand.Shuffle(len(out), swap)
	} else {
		rng.Shuffle(len(out), swap)
	}
	return out
}

// Deal hands out HandSize tiles per seat round-robin, then one extra tile to
// the dealer. It returns nil hands if playerCount or dealerIndex is out of
// range, or the deck is too small.
func Deal(deck []Tile, playerCount, dealerIndex int) (hands [][]Tile, rest []Tile) {
	if playerCount < MinPlayers || playerCount > MaxPlayers {
		return nil, deck
	}
	if dealerIndex < 0 || dealerIndex >= playerCount {
		return nil, deck
	}
	need := HandSize*playerCount + 1
	if len(deck) < need {
		return nil, deck
	}

	hands = make([][]Tile, playerCount)
	for i := range hands {
		hands[i] = make([]Tile, 0, HandSize+1)
	}
	next := 0
	for round := 0; round < HandSize; round++ {
		for seat := 0; seat < playerCount; seat++ {
			hands[seat] = append(hands[seat], deck[next])
			next++
		}
	}
	hands[dealerIndex] = append(hands[dealerIndex], deck[next])
	next++

	rest = make([]Tile, len(deck)-next)
	copy(rest, deck[next:])
	return hands, rest
}
