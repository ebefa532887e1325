// Package indexer queries a subgraph tracking the oracle's published state
// and the set of networks it has indexed.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/graphprotocol/block-oracle-go/internal/caip2"
)

// ErrBadData is returned when the subgraph's response violates one of the
// client-side invariants (gapless indices, valid CAIP-2 ids, unique ids).
var ErrBadData = errors.New("indexer: malformed subgraph response")

// ErrIndexingError is returned when the subgraph reports an indexing_error,
// a distinct condition from a transport or decode failure.
var ErrIndexingError = errors.New("indexer: subgraph reported an indexing error")

// ErrOther wraps any other subgraph-level failure not covered above.
var ErrOther = errors.New("indexer: subgraph query failed")

// LatestBlockUpdate is a network's most recently published block pointer.
type LatestBlockUpdate struct {
	BlockNumber       uint64 `json:"block_number"`
	Acceleration      int64  `json:"acceleration"`
	Delta             int64  `json:"delta"`
	UpdatedAtEpochNum uint64 `json:"updated_at_epoch_number"`
}

// Network is one entry of the subgraph's global state.
type Network struct {
	ID                caip2.ID           `json:"id"`
	ArrayIndex        int                `json:"array_index"`
	LatestBlockUpdate *LatestBlockUpdate `json:"latest_block_update"`
}

// GlobalState is the subgraph's view of the oracle's on-chain network
// registry and encoding version.
type GlobalState struct {
	Networks          []Network `json:"networks"`
	EncodingVersion   uint64    `json:"encoding_version"`
	LatestEpochNumber *uint64   `json:"latest_epoch_number"`
}

// LastPayload describes the most recently submitted oracle payload.
type LastPayload struct {
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the result of an indexer query. LastPayload is always nil: the
// query does not request payloads.
type State struct {
	LastIndexedBlockNumber uint64
	GlobalState            *GlobalState
	LastPayload            *LastPayload
}

// Client queries a subgraph's GraphQL endpoint over HTTP.
type Client struct {
	endpoint    string
	bearerToken string
	http        *http.Client
}

// New creates a Client against the given subgraph GraphQL endpoint. An
// empty bearerToken omits the Authorization header.
func New(endpoint, bearerToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, bearerToken: bearerToken, http: httpClient}
}

const query = `{
  graphNetwork(id: "1") {
    lastIndexedBlockNumber: latestBlockNumber
  }
  globalState(id: "0") {
    encodingVersion
    latestEpochNumber
    networks {
      id
      arrayIndex
      latestBlockUpdate {
        blockNumber
        acceleration
        delta
        updatedAtEpochNumber
      }
    }
  }
  _meta {
    hasIndexingErrors
  }
}`

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data struct {
		GraphNetwork *struct {
			LastIndexedBlockNumber uint64 `json:"lastIndexedBlockNumber"`
		} `json:"graphNetwork"`
		GlobalState *struct {
			EncodingVersion   uint64  `json:"encodingVersion"`
			LatestEpochNumber *uint64 `json:"latestEpochNumber"`
			Networks          []struct {
				ID                string `json:"id"`
				ArrayIndex        int    `json:"arrayIndex"`
				LatestBlockUpdate *struct {
					BlockNumber          uint64 `json:"blockNumber"`
					Acceleration         int64  `json:"acceleration"`
					Delta                int64  `json:"delta"`
					UpdatedAtEpochNumber uint64 `json:"updatedAtEpochNumber"`
				} `json:"latestBlockUpdate"`
			} `json:"networks"`
		} `json:"globalState"`
		Meta *struct {
			HasIndexingErrors bool `json:"hasIndexingErrors"`
		} `json:"_meta"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// Query fetches and validates the subgraph's current state.
func (c *Client) Query(ctx context.Context) (*State, error) {
	body, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOther, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOther, err)
	}
	req.Header.Set("content-type", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("authorization", "bearer "+c.bearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrOther, resp.StatusCode)
	}

	var parsed graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadData, err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrOther, parsed.Errors[0].Message)
	}
	if parsed.Data.Meta != nil && parsed.Data.Meta.HasIndexingErrors {
		return nil, ErrIndexingError
	}

	state := &State{}
	if parsed.Data.GraphNetwork != nil {
		state.LastIndexedBlockNumber = parsed.Data.GraphNetwork.LastIndexedBlockNumber
	}

	if gs := parsed.Data.GlobalState; gs != nil {
		networks := make([]Network, len(gs.Networks))
		for i, n := range gs.Networks {
			id, err := caip2.Parse(n.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: network %d: %v", ErrBadData, i, err)
			}
			var lbu *LatestBlockUpdate
			if n.LatestBlockUpdate != nil {
				lbu = &LatestBlockUpdate{
					BlockNumber:       n.LatestBlockUpdate.BlockNumber,
					Acceleration:      n.LatestBlockUpdate.Acceleration,
					Delta:             n.LatestBlockUpdate.Delta,
					UpdatedAtEpochNum: n.LatestBlockUpdate.UpdatedAtEpochNumber,
				}
			}
			networks[i] = Network{ID: id, ArrayIndex: n.ArrayIndex, LatestBlockUpdate: lbu}
		}
		if err := validateNetworks(networks); err != nil {
			return nil, err
		}
		state.GlobalState = &GlobalState{
			Networks:          networks,
			EncodingVersion:   gs.EncodingVersion,
			LatestEpochNumber: gs.LatestEpochNumber,
		}
	}

	return state, nil
}

// validateNetworks enforces that array indices form a gapless 0..len(n)
// range and that ids are unique, per network.
func validateNetworks(networks []Network) error {
	seen := make(map[caip2.ID]bool, len(networks))
	indices := make([]bool, len(networks))
	for _, n := range networks {
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate network id %q", ErrBadData, n.ID)
		}
		seen[n.ID] = true

		if n.ArrayIndex < 0 || n.ArrayIndex >= len(networks) {
			return fmt.Errorf("%w: array_index %d out of range for %d networks", ErrBadData, n.ArrayIndex, len(networks))
		}
		if indices[n.ArrayIndex] {
			return fmt.Errorf("%w: duplicate array_index %d", ErrBadData, n.ArrayIndex)
		}
		indices[n.ArrayIndex] = true
	}
	return nil
}
