package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/logger"
)

// CodecName is the gRPC content-subtype of the Delivery service.
// Messages travel as JSON so SDK payloads match the HTTP API byte for byte.
const CodecName = "json"

// Fully qualified method names of the Delivery service.
const (
	ServiceName       = "herald.v1.Delivery"
	DeliverFullMethod = "/" + ServiceName + "/Deliver"
	TrackFullMethod   = "/" + ServiceName + "/Track"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// DeliveryServer is the server API of the Delivery service.
type DeliveryServer interface {
	Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error)
	Track(context.Context, *TrackRequest) (*TrackResponse, error)
}

var _ DeliveryServer = (*API)(nil)

var deliveryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeliveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Track", Handler: trackHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeliveryServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DeliverFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeliveryServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func trackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TrackRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeliveryServer).Track(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TrackFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeliveryServer).Track(ctx, req.(*TrackRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Register connects the Delivery service to the grpc.Server engine.
func (a *API) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&deliveryServiceDesc, a)
}

// Deliver returns the notifications of the requested user.
//
// It returns:
//   - INVALID_ARGUMENT if account_id is missing.
//   - NOT_FOUND if the account does not exist.
//
// Other failures degrade to an empty list, as over HTTP.
func (a *API) Deliver(ctx context.Context, req *DeliverRequest) (*DeliverResponse, error) {
	if req.AccountID == "" {
		logger.FromContext(ctx).Warn("bad request: missing account_id")
		return nil, status.Error(codes.InvalidArgument, "accountId is required")
	}

	payloads, err := a.deliver(ctx, req.AccountID, req.User)
	if err != nil {
		return nil, status.Error(codes.NotFound, "account not found")
	}
	return &DeliverResponse{Notifications: payloads}, nil
}

// Track records a view, click or dismissal, subject to the per-peer rate limit.
func (a *API) Track(ctx context.Context, req *TrackRequest) (*TrackResponse, error) {
	log := logger.FromContext(ctx)

	res, err := a.limiter.Allow(ctx, peerHost(ctx))
	switch {
	case err != nil:
		log.Warn("rate limiter unavailable, allowing request", slog.String("error", err.Error()))
	case !res.Allowed:
		return nil, status.Error(codes.ResourceExhausted, "too many event reports")
	}

	err = a.track(ctx, req)
	var invalid *errInvalidTrack
	switch {
	case errors.As(err, &invalid):
		return nil, status.Errorf(codes.InvalidArgument, "%s %s", invalid.details[0].Field, invalid.details[0].Issue)
	case errors.Is(err, events.ErrNotificationNotFound):
		return nil, status.Error(codes.NotFound, "notification not found")
	case err != nil:
		log.Error("failed to authorize event report", slog.String("error", err.Error()))
		return nil, status.Error(codes.Internal, "failed to process event report")
	}
	return &TrackResponse{OK: true}, nil
}

// peerHost is the rate limit key of a gRPC caller.
func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

// DeliveryClient calls the Delivery service. It is what server-side SDKs embed.
type DeliveryClient struct {
	cc grpc.ClientConnInterface
}

// NewDeliveryClient wraps an established connection.
func NewDeliveryClient(cc grpc.ClientConnInterface) *DeliveryClient {
	return &DeliveryClient{cc: cc}
}

// Deliver calls herald.v1.Delivery/Deliver.
func (c *DeliveryClient) Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error) {
	out := new(DeliverResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, DeliverFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Track calls herald.v1.Delivery/Track.
func (c *DeliveryClient) Track(ctx context.Context, in *TrackRequest, opts ...grpc.CallOption) (*TrackResponse, error) {
	out := new(TrackResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, TrackFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
