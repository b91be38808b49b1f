package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/pkg/catalog"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultCallTimeout = 10 * time.Second
)

// ClientConfig tunes retries and per-call deadlines
type ClientConfig struct {
	MaxRetries  uint64
	BaseBackoff time.Duration
	CallTimeout time.Duration
}

// DefaultClientConfig returns the documented retry policy
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
		CallTimeout: DefaultCallTimeout,
	}
}

// Client is a catalog.Store backed by a remote item service
type Client struct {
	conn grpc.ClientConnInterface
	cfg  ClientConfig
	log  *logger.Logger
}

var _ catalog.Store = (*Client)(nil)

// NewClient wraps an existing connection
func NewClient(conn grpc.ClientConnInterface, cfg ClientConfig, log *logger.Logger) *Client {
	def := DefaultClientConfig()
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Client{conn: conn, cfg: cfg, log: logger.OrNop(log).ComponentLogger("remote")}
}

// Dial connects to addr without transport security
func Dial(addr string, cfg ClientConfig, log *logger.Logger) (*Client, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn, cfg, log), conn, nil
}

func retryable(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}

// invoke calls method with exponential backoff on transient failures
func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	backoff := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewExponential(c.cfg.BaseBackoff))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		err := c.conn.Invoke(callCtx, fullMethod(method), in, out)
		if err != nil && retryable(status.Code(err)) {
			c.log.Debug("retrying call").Str("method", method).Int("attempt", attempt).Err(err).Send()
			return retry.RetryableError(err)
		}
		return err
	})
}

// List fetches every record
func (c *Client) List(ctx context.Context) ([]catalog.Record, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodList, &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus("", err)
	}

	var resp listResponse
	if err := decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// SetActive updates one record's active flag
func (c *Client) SetActive(ctx context.Context, id string, active bool) error {
	in, err := encode(setActiveRequest{ID: id, Active: active})
	if err != nil {
		return err
	}
	return fromStatus(id, c.invoke(ctx, methodSetActive, in, new(emptypb.Empty)))
}

// Delete removes one record
func (c *Client) Delete(ctx context.Context, id string) error {
	in, err := encode(deleteRequest{ID: id})
	if err != nil {
		return err
	}
	return fromStatus(id, c.invoke(ctx, methodDelete, in, new(emptypb.Empty)))
}

// UpdateSortOrder sends all deltas in one call; per-id failures come back
// as a *catalog.BatchError
func (c *Client) UpdateSortOrder(ctx context.Context, deltas []catalog.Delta) error {
	if len(deltas) == 0 {
		return nil
	}

	in, err := encode(sortOrderRequest{Deltas: deltas})
	if err != nil {
		return err
	}

	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodUpdateSortOrder, in, out); err != nil {
		// The whole batch failed
		failed := make([]catalog.Failure, len(deltas))
		for i, d := range deltas {
			failed[i] = catalog.Failure{ID: d.ID, Err: fromStatus(d.ID, err)}
		}
		return &catalog.BatchError{Op: "update sort order", Failed: failed}
	}

	var resp sortOrderResponse
	if err := decode(out, &resp); err != nil {
		return err
	}
	if len(resp.Failed) > 0 {
		return &catalog.BatchError{Op: "update sort order", Failed: fromWireFailures(resp.Failed)}
	}
	return nil
}

// Stats returns server uptime and per-method call counts
func (c *Client) Stats(ctx context.Context) (time.Duration, map[string]int64, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodStats, &emptypb.Empty{}, out); err != nil {
		return 0, nil, err
	}

	var resp statsResponse
	if err := decode(out, &resp); err != nil {
		return 0, nil, err
	}
	return time.Duration(resp.UptimeSeconds) * time.Second, resp.Operations, nil
}
