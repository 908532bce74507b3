package rpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client submits live updates to a remote performance.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a kantele gRPC server. The connection is established
// lazily, on the first call.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, fmt.Errorf("grpc.NewClient failed: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Compile submits orchestra text.
func (c *Client) Compile(ctx context.Context, orchestra string) (uuid.UUID, error) {
	return c.submit(ctx, "/kantele.Live/Compile", &CompileRequest{Orchestra: orchestra})
}

// Score submits score events.
func (c *Client) Score(ctx context.Context, events []kantele.ScoreEvent) (uuid.UUID, error) {
	return c.submit(ctx, "/kantele.Live/Score", &ScoreRequest{Events: events})
}

// ScoreText submits score text.
func (c *Client) ScoreText(ctx context.Context, text string) (uuid.UUID, error) {
	return c.submit(ctx, "/kantele.Live/Score", &ScoreRequest{Text: text})
}

func (c *Client) submit(ctx context.Context, method string, req any) (uuid.UUID, error) {
	var reply SubmitReply
	if err := c.conn.Invoke(ctx, method, req, &reply); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(reply.UpdateID)
}

// Status returns the status of the remote performance.
func (c *Client) Status(ctx context.Context) (engine.Status, error) {
	var st engine.Status
	err := c.conn.Invoke(ctx, "/kantele.Live/Status", &StatusRequest{}, &st)
	return st, err
}

// Watch streams the notifications of the remote performance. The channel
// is closed when ctx is done or the stream breaks.
func (c *Client) Watch(ctx context.Context) (<-chan engine.Notification, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], "/kantele.Live/Watch")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	ch := make(chan engine.Notification, 16)
	go func() {
		defer close(ch)
		for {
			var n engine.Notification
			if err := stream.RecvMsg(&n); err != nil {
				return
			}
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
