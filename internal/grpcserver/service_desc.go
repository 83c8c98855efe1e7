package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "laundry.v1.LaundryService"

const (
	MethodActivate                   = "Activate"
	MethodGetReservation             = "GetReservation"
	MethodListReservations           = "ListReservations"
	MethodGetBalance                 = "GetBalance"
	MethodTopUp                      = "TopUp"
	MethodListWalletEntries          = "ListWalletEntries"
	MethodSearchStores               = "SearchStores"
	MethodListStoreMachines          = "ListStoreMachines"
	MethodGetNotificationSettings    = "GetNotificationSettings"
	MethodUpdateNotificationSettings = "UpdateNotificationSettings"
)

// LaundryServiceAPI is the handler contract. Messages are google.protobuf.Struct
// so clients need no generated stubs.
type LaundryServiceAPI interface {
	Activate(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListReservations(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	TopUp(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListWalletEntries(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	SearchStores(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListStoreMachines(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetNotificationSettings(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	UpdateNotificationSettings(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(api LaundryServiceAPI, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes LaundryService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LaundryServiceAPI)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodActivate, LaundryServiceAPI.Activate),
		unary(MethodGetReservation, LaundryServiceAPI.GetReservation),
		unary(MethodListReservations, LaundryServiceAPI.ListReservations),
		unary(MethodGetBalance, LaundryServiceAPI.GetBalance),
		unary(MethodTopUp, LaundryServiceAPI.TopUp),
		unary(MethodListWalletEntries, LaundryServiceAPI.ListWalletEntries),
		unary(MethodSearchStores, LaundryServiceAPI.SearchStores),
		unary(MethodListStoreMachines, LaundryServiceAPI.ListStoreMachines),
		unary(MethodGetNotificationSettings, LaundryServiceAPI.GetNotificationSettings),
		unary(MethodUpdateNotificationSettings, LaundryServiceAPI.UpdateNotificationSettings),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "laundry/v1/laundry.proto",
}

// Register attaches api to registrar.
func Register(registrar grpc.ServiceRegistrar, api LaundryServiceAPI) {
	registrar.RegisterService(&ServiceDesc, api)
}

// FullMethod returns "/laundry.v1.LaundryService/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary(name string, method unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			request := new(structpb.Struct)
			if err := decode(request); err != nil {
				return nil, err
			}
			api := server.(LaundryServiceAPI)
			if interceptor == nil {
				return method(api, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, request interface{}) (interface{}, error) {
				return method(api, ctx, request.(*structpb.Struct))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}

// Client calls LaundryService over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with fields encoded as a Struct.
func (client *Client) Call(ctx context.Context, method string, fields map[string]interface{}, options ...grpc.CallOption) (*structpb.Struct, error) {
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, FullMethod(method), request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}
