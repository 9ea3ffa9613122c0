package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls ChargeService on a remote server.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Debit(ctx context.Context, req *DebitRequest) (*DebitResult, error) {
	out := new(DebitResult)
	if err := c.conn.Invoke(ctx, debitMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ResetBalance(ctx context.Context, backend string) (int64, error) {
	var out ResetResult
	if err := c.conn.Invoke(ctx, resetMethod, &ResetRequest{Backend: backend}, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}
