// Package rpc exposes a live performance over gRPC, so remote editors can
// compile instruments and send score while it plays. Messages are JSON
// encoded; no protobuf definitions are needed on either side.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const codecName = "json"

type (
	CompileRequest struct {
		Orchestra string `json:"orchestra"`
	}

	// ScoreRequest carries either events or score text.
	ScoreRequest struct {
		Events []kantele.ScoreEvent `json:"events,omitempty"`
		Text   string               `json:"text,omitempty"`
	}

	SubmitReply struct {
		UpdateID string `json:"update_id"`
	}

	StatusRequest struct{}
	WatchRequest  struct{}

	// Performance is the part of the engine the service drives.
	// *engine.Engine implements it.
	Performance interface {
		SubmitCompile(text string) (uuid.UUID, error)
		SubmitScoreAppend(events []kantele.ScoreEvent) (uuid.UUID, error)
		SubmitScoreText(text string) (uuid.UUID, error)
		Status() engine.Status
	}

	// liveServer is the handler type of the service.
	liveServer interface {
		Compile(ctx context.Context, req *CompileRequest) (*SubmitReply, error)
		Score(ctx context.Context, req *ScoreRequest) (*SubmitReply, error)
		Status(ctx context.Context, req *StatusRequest) (*engine.Status, error)
		Watch(req *WatchRequest, stream grpc.ServerStream) error
	}

	jsonCodec struct{}
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "kantele.Live",
	HandlerType: (*liveServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compile", Handler: compileHandler},
		{MethodName: "Score", Handler: scoreHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "kantele/live",
}

func compileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CompileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(liveServer).Compile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kantele.Live/Compile"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(liveServer).Compile(ctx, req.(*CompileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ScoreRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(liveServer).Score(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kantele.Live/Score"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(liveServer).Score(ctx, req.(*ScoreRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(liveServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kantele.Live/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(liveServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(liveServer).Watch(in, stream)
}

// statusError maps engine errors to gRPC status codes. Compile errors keep
// their position in the message.
func statusError(err error) error {
	switch {
	case errors.Is(err, kantele.ErrCompile), errors.Is(err, kantele.ErrInvalidEvent), errors.Is(err, kantele.ErrUnknownInstrument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, kantele.ErrAlreadyStopped):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, fmt.Sprintf("submission failed: %v", err))
}
