package enhance

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/media-transcriber/internal/observability"
	"github.com/lexiqai/media-transcriber/internal/resilience"
)

const (
	// PunctuatorService is the gRPC service name of the punctuation model
	PunctuatorService = "punctuation.v1.Punctuator"
	inferMethod       = "/" + PunctuatorService + "/Infer"
)

// GRPCOptions configures the connection to the punctuation model server
type GRPCOptions struct {
	Target      string
	TLSEnabled  bool
	DialTimeout time.Duration
	Reconnect   *resilience.ReconnectConfig
	Retry       *resilience.RetryConfig
	Breaker     *resilience.CircuitBreaker // may be nil
	DialOptions []grpc.DialOption          // appended after the defaults
}

// GRPCModel implements Model against a punctuation model served over gRPC.
// Requests and replies are google.protobuf.Struct messages:
//
//	request  {"texts": ["raw text", ...]}
//	response {"results": [["Line one.", "Line two."], ...]}
type GRPCModel struct {
	opts   GRPCOptions
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewGRPCModel dials the model server, retrying with backoff until it
// answers or the reconnect budget is spent.
func NewGRPCModel(ctx context.Context, opts GRPCOptions, logger zerolog.Logger) (*GRPCModel, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Reconnect == nil {
		opts.Reconnect = resilience.DefaultReconnectConfig()
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	m := &GRPCModel{
		opts:   opts,
		logger: logger.With().Str("component", "enhancer").Str("target", opts.Target).Logger(),
	}

	if err := resilience.Reconnect(ctx, m.connect, opts.Reconnect, m.logger); err != nil {
		return nil, fmt.Errorf("failed to connect to punctuation model: %w", err)
	}
	return m, nil
}

// connect establishes the gRPC connection
func (m *GRPCModel) connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return nil
	}

	var opts []grpc.DialOption
	if m.opts.TLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, grpc.WithBlock())
	opts = append(opts, m.opts.DialOptions...)

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, m.opts.Target, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial punctuation model at %s: %w", m.opts.Target, err)
	}

	m.conn = conn
	m.health = healthpb.NewHealthClient(conn)

	m.logger.Info().Msg("Connected to punctuation model")
	return nil
}

// Punctuate sends all texts in one Infer call
func (m *GRPCModel) Punctuate(ctx context.Context, texts []string) ([][]string, error) {
	items := make([]interface{}, len(texts))
	for i, t := range texts {
		items[i] = t
	}
	req, err := structpb.NewStruct(map[string]interface{}{"texts": items})
	if err != nil {
		return nil, fmt.Errorf("build punctuation request: %w", err)
	}

	var resp *structpb.Struct
	call := func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()
			if conn == nil {
				return resilience.Permanent(errors.New("punctuation model client is closed"))
			}

			out := new(structpb.Struct)
			done := observability.ObserveCall("enhancer")
			callErr := conn.Invoke(ctx, inferMethod, req, out)
			done(callErr == nil)
			if callErr != nil {
				return callErr
			}
			resp = out
			return nil
		}, m.opts.Retry, isRetryableStatus)
	}

	if m.opts.Breaker != nil {
		err = m.opts.Breaker.Call(call)
		observability.UpdateCircuitBreakerState("enhancer", int(m.opts.Breaker.GetState()))
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures("enhancer")
		}
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("punctuation model Infer failed: %w", err)
	}

	return decodeResults(resp, len(texts))
}

// decodeResults unpacks {"results": [[line, ...], ...]}
func decodeResults(resp *structpb.Struct, want int) ([][]string, error) {
	results := resp.GetFields()["results"].GetListValue()
	if results == nil {
		return nil, errors.New("punctuation model reply has no results list")
	}
	values := results.GetValues()
	if len(values) != want {
		return nil, fmt.Errorf("punctuation model returned %d results for %d texts", len(values), want)
	}

	out := make([][]string, len(values))
	for i, v := range values {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_ListValue:
			for _, line := range kind.ListValue.GetValues() {
				out[i] = append(out[i], line.GetStringValue())
			}
		case *structpb.Value_StringValue:
			out[i] = []string{kind.StringValue}
		default:
			return nil, fmt.Errorf("punctuation model result %d has unexpected type", i)
		}
	}
	return out, nil
}

// HealthCheck asks the server's standard health service about the punctuator
func (m *GRPCModel) HealthCheck(ctx context.Context) (bool, error) {
	m.mu.RLock()
	health := m.health
	m.mu.RUnlock()
	if health == nil {
		return false, fmt.Errorf("punctuation model client is not connected")
	}

	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: PunctuatorService})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (m *GRPCModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.health = nil
	return err
}

// isRetryableStatus retries transient gRPC failures
func isRetryableStatus(err error) bool {
	if !resilience.IsRetryable(err) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.Unknown:
		return resilience.IsRetryableNetworkError(err)
	}
	return false
}
