// Package rpc describes the todo.Todos gRPC service. Messages are plain Go
// structs carried by a JSON codec.
package rpc

import (
	"context"

	"github.com/breez/todo-sync/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "todo.Todos"

type AllRequest struct {
	Limit int `json:"limit,omitempty"`
}

type AllReply struct {
	Todos []model.Todo `json:"todos"`
}

type ByIdRequest struct {
	Id string `json:"id"`
}

type CreateRequest struct {
	Id      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type TodoReply struct {
	Todo *model.Todo `json:"todo"`
}

type DeleteRequest struct {
	Id string `json:"id"`
}

type DeleteReply struct {
	Id string `json:"id"`
}

// TodosServer is the server API for the todo.Todos service.
type TodosServer interface {
	All(context.Context, *AllRequest) (*AllReply, error)
	ById(context.Context, *ByIdRequest) (*TodoReply, error)
	Create(context.Context, *CreateRequest) (*TodoReply, error)
	Delete(context.Context, *DeleteRequest) (*DeleteReply, error)
}

// UnimplementedTodosServer can be embedded to have forward compatible
// implementations.
type UnimplementedTodosServer struct{}

func (UnimplementedTodosServer) All(context.Context, *AllRequest) (*AllReply, error) {
	return nil, status.Error(codes.Unimplemented, "method All not implemented")
}

func (UnimplementedTodosServer) ById(context.Context, *ByIdRequest) (*TodoReply, error) {
	return nil, status.Error(codes.Unimplemented, "method ById not implemented")
}

func (UnimplementedTodosServer) Create(context.Context, *CreateRequest) (*TodoReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Create not implemented")
}

func (UnimplementedTodosServer) Delete(context.Context, *DeleteRequest) (*DeleteReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Delete not implemented")
}

func RegisterTodosServer(s grpc.ServiceRegistrar, srv TodosServer) {
	s.RegisterService(&Todos_ServiceDesc, srv)
}

func unaryHandler[Req, Reply any](method string, call func(TodosServer, context.Context, *Req) (*Reply, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TodosServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TodosServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var Todos_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TodosServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "All", Handler: unaryHandler("All", TodosServer.All)},
		{MethodName: "ById", Handler: unaryHandler("ById", TodosServer.ById)},
		{MethodName: "Create", Handler: unaryHandler("Create", TodosServer.Create)},
		{MethodName: "Delete", Handler: unaryHandler("Delete", TodosServer.Delete)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "todo.Todos",
}

// TodosClient is the client API for the todo.Todos service.
type TodosClient interface {
	All(ctx context.Context, in *AllRequest, opts ...grpc.CallOption) (*AllReply, error)
	ById(ctx context.Context, in *ByIdRequest, opts ...grpc.CallOption) (*TodoReply, error)
	Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*TodoReply, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteReply, error)
}

type todosClient struct {
	cc grpc.ClientConnInterface
}

func NewTodosClient(cc grpc.ClientConnInterface) TodosClient {
	return &todosClient{cc}
}

func invoke[Reply any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Reply, error) {
	out := new(Reply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *todosClient) All(ctx context.Context, in *AllRequest, opts ...grpc.CallOption) (*AllReply, error) {
	return invoke[AllReply](ctx, c.cc, "All", in, opts)
}

func (c *todosClient) ById(ctx context.Context, in *ByIdRequest, opts ...grpc.CallOption) (*TodoReply, error) {
	return invoke[TodoReply](ctx, c.cc, "ById", in, opts)
}

func (c *todosClient) Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*TodoReply, error) {
	return invoke[TodoReply](ctx, c.cc, "Create", in, opts)
}

func (c *todosClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteReply, error) {
	return invoke[DeleteReply](ctx, c.cc, "Delete", in, opts)
}
