package main

import (
	"context"
	"errors"

	"github.com/breez/todo-sync/middleware"
	"github.com/breez/todo-sync/model"
	"github.com/breez/todo-sync/rpc"
	"github.com/breez/todo-sync/store"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type TodoServer struct {
	rpc.UnimplementedTodosServer
	store    store.TodoStore
	sessions middleware.SessionValidator
}

func NewTodoServer(store store.TodoStore, sessions middleware.SessionValidator) *TodoServer {
	return &TodoServer{
		store:    store,
		sessions: sessions,
	}
}

func (s *TodoServer) authenticate(ctx context.Context) (string, error) {
	c, err := middleware.Authenticate(s.sessions, ctx)
	if err != nil {
		return "", status.Error(codes.Unauthenticated, err.Error())
	}
	owner, _ := middleware.UserIDFromContext(c)
	return owner, nil
}

func (s *TodoServer) All(ctx context.Context, msg *rpc.AllRequest) (*rpc.AllReply, error) {
	owner, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	todos, err := s.store.List(ctx, owner, msg.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.AllReply{Todos: todos}, nil
}

func (s *TodoServer) ById(ctx context.Context, msg *rpc.ByIdRequest) (*rpc.TodoReply, error) {
	owner, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	todo, err := s.store.Get(ctx, owner, msg.Id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.TodoReply{Todo: todo}, nil
}

func (s *TodoServer) Create(ctx context.Context, msg *rpc.CreateRequest) (*rpc.TodoReply, error) {
	owner, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	todo, err := s.store.Create(ctx, owner, model.TodoInput{
		Id:      msg.Id,
		Title:   msg.Title,
		Content: msg.Content,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	log.WithFields(log.Fields{"id": todo.Id, "owner": owner}).Debug("created todo")
	return &rpc.TodoReply{Todo: todo}, nil
}

func (s *TodoServer) Delete(ctx context.Context, msg *rpc.DeleteRequest) (*rpc.DeleteReply, error) {
	owner, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, owner, msg.Id); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.DeleteReply{Id: msg.Id}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrAuth):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, model.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, "todo not found")
	default:
		log.Errorf("todo request failed: %v", err)
		return status.Error(codes.Internal, "internal error")
	}
}
