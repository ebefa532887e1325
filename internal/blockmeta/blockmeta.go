// Package blockmeta wraps a gRPC connection to a block-metadata service
// behind the same retry policy as internal/jsonrpc, with bearer-token
// authentication and a chained client-side interceptor.
package blockmeta

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Options configures a Client's retry policy and authentication.
type Options struct {
	// BearerToken, if non-empty, is sent as "authorization: bearer <token>"
	// on every call.
	BearerToken string
	// MaxElapsedTime bounds total retry time per call. Zero selects 60s.
	MaxElapsedTime time.Duration
	// Insecure disables TLS. Intended for local/test endpoints only.
	Insecure bool
}

func (o Options) withDefaults() Options {
	if o.MaxElapsedTime == 0 {
		o.MaxElapsedTime = 60 * time.Second
	}
	return o
}

// Client is a gRPC connection to a block-metadata service.
type Client struct {
	conn *grpc.ClientConn
	opts Options
}

// Dial connects to target, chaining a retry interceptor and, if configured,
// a bearer-token credential.
func Dial(ctx context.Context, target string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	dialOpts := []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(grpcmiddleware.ChainUnaryClient(
			retryInterceptor(opts),
		)),
	}

	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	}

	if opts.BearerToken != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(bearerCredential{
			token:            opts.BearerToken,
			requireTransport: !opts.Insecure,
		}))
	}

	conn, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, opts: opts}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Conn returns the underlying connection for use with a generated gRPC
// service client.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// retryInterceptor wraps invocation with backoff.ExponentialBackOff's
// default randomized policy (each wait within ±50% of the current interval,
// not full jitter), retrying only codes that indicate a transient transport
// failure.
func retryInterceptor(opts Options) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = opts.MaxElapsedTime

		return backoff.Retry(func() error {
			err := invoker(ctx, method, req, reply, cc, callOpts...)
			if err == nil {
				return nil
			}
			if isTransientCode(status.Code(err)) {
				return err
			}
			return backoff.Permanent(err)
		}, backoff.WithContext(policy, ctx))
	}
}

func isTransientCode(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// bearerCredential implements credentials.PerRPCCredentials, inserting a
// static bearer token on every call.
type bearerCredential struct {
	token            string
	requireTransport bool
}

func (b bearerCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"authorization": "bearer " + b.token,
	}, nil
}

func (b bearerCredential) RequireTransportSecurity() bool {
	return b.requireTransport
}
