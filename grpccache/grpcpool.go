package grpccache

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Cache hands out one shared client connection per endpoint. All bookkeeping
// happens on a single goroutine; dials run on workers so a slow endpoint
// doesn't block the others.
type Cache struct {
	connections map[string]*grpc.ClientConn
	requests    chan *connectionRequest
	dialOptions []grpc.DialOption
	done        chan struct{}
}

type connectionRequest struct {
	ctx          context.Context
	address      string
	responseChan chan<- *finishedConnection
}

type finishedConnection struct {
	address    string
	connection *grpc.ClientConn
	err        error
}

// NewCache starts the cache. It closes all its connections once ctx is
// cancelled.
func NewCache(ctx context.Context, opts ...grpc.DialOption) *Cache {
	cache := &Cache{
		connections: make(map[string]*grpc.ClientConn),
		requests:    make(chan *connectionRequest),
		dialOptions: append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
		done:        make(chan struct{}),
	}
	go cache.loop(ctx)

	return cache
}

// Done is closed once the cache has shut down and released its connections.
func (cache *Cache) Done() <-chan struct{} {
	return cache.done
}

func (cache *Cache) GetConnection(ctx context.Context, address string) (*grpc.ClientConn, error) {
	responseChan := make(chan *finishedConnection, 1)

	select {
	case cache.requests <- &connectionRequest{
		ctx:          ctx,
		address:      address,
		responseChan: responseChan,
	}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cache.done:
		return nil, errors.New("Connection cache closed")
	}

	select {
	case res, ok := <-responseChan:
		if !ok || res == nil {
			return nil, errors.Errorf("Couldn't get connection to %s", address)
		}
		return res.connection, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (cache *Cache) loop(ctx context.Context) {
	defer close(cache.done)

	waiting := make(map[string][]*connectionRequest)
	finished := make(chan *finishedConnection)

	for {
		select {
		case req := <-cache.requests:
			// Just send the connection over if it exists. responseChan is buffered.
			if conn, ok := cache.connections[req.address]; ok {
				req.responseChan <- &finishedConnection{
					address:    req.address,
					connection: conn,
				}
				close(req.responseChan)
				continue
			}

			// A worker is already dialing this address, queue up behind it.
			if alreadyWaiting, ok := waiting[req.address]; ok {
				waiting[req.address] = append(alreadyWaiting, req)
				continue
			}

			waiting[req.address] = []*connectionRequest{req}
			go cache.buildConnection(ctx, req.address, finished)

		case conn := <-finished:
			if conn.err == nil {
				cache.connections[conn.address] = conn.connection
			}

			for _, client := range waiting[conn.address] {
				client.responseChan <- conn
				close(client.responseChan)
			}
			delete(waiting, conn.address)

		case <-ctx.Done():
			for address, conn := range cache.connections {
				conn.Close()
				delete(cache.connections, address)
			}
			return
		}
	}
}

func (cache *Cache) buildConnection(ctx context.Context, address string, finished chan<- *finishedConnection) {
	conn, err := grpc.DialContext(ctx, address, cache.dialOptions...)
	if err != nil {
		select {
		case finished <- &finishedConnection{
			address: address,
			err:     errors.Wrapf(err, "Couldn't dial grpc. Address: %s", address),
		}:
		case <-ctx.Done():
		}
		return
	}

	// In case the cache gets closed, by cancellation of the context, we abort sending the connection over.
	select {
	case finished <- &finishedConnection{address: address, connection: conn}:
	case <-ctx.Done():
		conn.Close()
	}
}
