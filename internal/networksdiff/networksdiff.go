// Package networksdiff computes the RegisterNetworks delta between the
// networks an indexer subgraph has registered and the set configured for
// this oracle instance.
package networksdiff

import (
	"sort"

	"github.com/graphprotocol/block-oracle-go/internal/caip2"
	"github.com/graphprotocol/block-oracle-go/internal/indexer"
	"github.com/graphprotocol/block-oracle-go/internal/message"
)

// Diff compares registered (as reported by the subgraph, with their current
// array indices) against configured (the chain ids this oracle instance is
// set up to track). Deletions maps a chain id no longer configured to its
// current index; insertions lists chain ids configured but not yet
// registered.
func Diff(registered []indexer.Network, configured []caip2.ID) (deletions map[caip2.ID]uint64, insertions []caip2.ID) {
	configuredSet := make(map[caip2.ID]bool, len(configured))
	for _, id := range configured {
		configuredSet[id] = true
	}

	registeredSet := make(map[caip2.ID]bool, len(registered))
	deletions = make(map[caip2.ID]uint64)
	for _, n := range registered {
		registeredSet[n.ID] = true
		if !configuredSet[n.ID] {
			deletions[n.ID] = uint64(n.ArrayIndex)
		}
	}

	for _, id := range configured {
		if !registeredSet[id] {
			insertions = append(insertions, id)
		}
	}

	return deletions, insertions
}

// ToMessage builds a RegisterNetworks message from a Diff result, or
// returns (msg, false) when there is nothing to register.
func ToMessage(deletions map[caip2.ID]uint64, insertions []caip2.ID) (message.RegisterNetworks, bool) {
	if len(deletions) == 0 && len(insertions) == 0 {
		return message.RegisterNetworks{}, false
	}

	remove := make([]uint64, 0, len(deletions))
	for _, idx := range deletions {
		remove = append(remove, idx)
	}
	// Highest index first: a swap-remove at index i relocates the former
	// last element to i, so removing in descending order keeps every
	// not-yet-removed index stable across the whole batch.
	sort.Slice(remove, func(i, j int) bool { return remove[i] > remove[j] })

	add := make([]string, len(insertions))
	for i, id := range insertions {
		add[i] = id.String()
	}

	return message.RegisterNetworks{Remove: remove, Add: add}, true
}
