package indexer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serverReturning(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQuerySuccess(t *testing.T) {
	srv := serverReturning(t, `{
		"data": {
			"graphNetwork": {"lastIndexedBlockNumber": 100},
			"globalState": {
				"encodingVersion": 0,
				"latestEpochNumber": 5,
				"networks": [
					{"id": "eip155:1", "arrayIndex": 0, "latestBlockUpdate": null},
					{"id": "eip155:10", "arrayIndex": 1, "latestBlockUpdate": {"blockNumber": 50, "acceleration": 1, "delta": 2, "updatedAtEpochNumber": 4}}
				]
			},
			"_meta": {"hasIndexingErrors": false}
		}
	}`)

	c := New(srv.URL, "", srv.Client())
	state, err := c.Query(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), state.LastIndexedBlockNumber)
	require.Len(t, state.GlobalState.Networks, 2)
	require.Equal(t, "eip155:1", state.GlobalState.Networks[0].ID.String())
	require.Nil(t, state.GlobalState.Networks[0].LatestBlockUpdate)
	require.Equal(t, uint64(50), state.GlobalState.Networks[1].LatestBlockUpdate.BlockNumber)
}

func TestQueryIndexingError(t *testing.T) {
	srv := serverReturning(t, `{"data": {"_meta": {"hasIndexingErrors": true}}}`)
	c := New(srv.URL, "", srv.Client())
	_, err := c.Query(context.Background())
	require.ErrorIs(t, err, ErrIndexingError)
}

func TestQueryGraphQLErrorsSurfaceAsOther(t *testing.T) {
	srv := serverReturning(t, `{"errors": [{"message": "boom"}]}`)
	c := New(srv.URL, "", srv.Client())
	_, err := c.Query(context.Background())
	require.ErrorIs(t, err, ErrOther)
}

func TestQueryRejectsGapInArrayIndex(t *testing.T) {
	srv := serverReturning(t, `{
		"data": {
			"globalState": {
				"networks": [
					{"id": "eip155:1", "arrayIndex": 0},
					{"id": "eip155:10", "arrayIndex": 2}
				]
			}
		}
	}`)
	c := New(srv.URL, "", srv.Client())
	_, err := c.Query(context.Background())
	require.ErrorIs(t, err, ErrBadData)
}

func TestQueryRejectsDuplicateID(t *testing.T) {
	srv := serverReturning(t, `{
		"data": {
			"globalState": {
				"networks": [
					{"id": "eip155:1", "arrayIndex": 0},
					{"id": "eip155:1", "arrayIndex": 1}
				]
			}
		}
	}`)
	c := New(srv.URL, "", srv.Client())
	_, err := c.Query(context.Background())
	require.ErrorIs(t, err, ErrBadData)
}

func TestQueryRejectsInvalidCAIP2(t *testing.T) {
	srv := serverReturning(t, `{
		"data": {
			"globalState": {
				"networks": [
					{"id": "not-a-valid-id", "arrayIndex": 0}
				]
			}
		}
	}`)
	c := New(srv.URL, "", srv.Client())
	_, err := c.Query(context.Background())
	require.ErrorIs(t, err, ErrBadData)
}

func TestQuerySendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("authorization")
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"data": {}}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "secret-token", srv.Client())
	_, err := c.Query(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bearer secret-token", gotAuth)
}
