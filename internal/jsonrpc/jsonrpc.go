// Package jsonrpc wraps a go-ethereum JSON-RPC client with randomized
// exponential backoff, bounded by a total elapsed time budget.
package jsonrpc

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/rpc"
)

// Options configures a Retrying client's backoff policy.
type Options struct {
	// MaxElapsedTime bounds the total time spent retrying a single call.
	// Zero selects the default of 60 seconds.
	MaxElapsedTime time.Duration
	// ConnectTimeout bounds the initial dial. Zero selects 5 seconds.
	ConnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxElapsedTime == 0 {
		o.MaxElapsedTime = 60 * time.Second
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	return o
}

// Retrying decorates a *rpc.Client, retrying transient failures with
// backoff.ExponentialBackOff's default policy: each wait is drawn within
// ±50% of the current exponential interval, not from the full
// [0, interval] range.
type Retrying struct {
	client *rpc.Client
	opts   Options
}

// Dial connects to endpoint and wraps the resulting client with retry
// semantics.
func Dial(endpoint string, opts Options) (*Retrying, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &Retrying{client: client, opts: opts}, nil
}

// Close releases the underlying client's resources.
func (r *Retrying) Close() {
	r.client.Close()
}

// CallContext invokes method with args, retrying transient failures.
func (r *Retrying) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return r.retry(ctx, func() error {
		return r.client.CallContext(ctx, result, method, args...)
	})
}

// BatchCallContext invokes a batch of calls, retrying the whole batch on
// transient failure. Well-formed per-element JSON-RPC application errors
// inside a successfully-transported batch are not retried.
func (r *Retrying) BatchCallContext(ctx context.Context, batch []rpc.BatchElem) error {
	return r.retry(ctx, func() error {
		return r.client.BatchCallContext(ctx, batch)
	})
}

func (r *Retrying) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = r.opts.MaxElapsedTime

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

// isTransient reports whether err is worth retrying: connection failures
// and HTTP 5xx responses are transient, well-formed JSON-RPC application
// errors (rpc.Error, carrying a code) are not.
func isTransient(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, rpc.ErrClientQuit) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	return true
}
