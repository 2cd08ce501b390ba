package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/parley-chat/parley/internal/database"
	"github.com/parley-chat/parley/internal/stats"
	"github.com/parley-chat/parley/internal/types"
)

const (
	statActiveConnections   = "ActiveConnections"
	statActiveSubscriptions = "ActiveSubscriptions"
	statMessagesPersisted   = "MessagesPersisted"
	statFramesBroadcast     = "FramesBroadcast"
	statFramesDropped       = "FramesDropped"
)

// ChatServer owns the subscription registry and the broadcast fan-out.
// With a broker configured, publishes go through the broker so
// subscribers connected to other instances are reached; otherwise
// fan-out is local to this process.
type ChatServer struct {
	log         *log.Logger
	db          database.Repository
	stats       stats.StatsProvider
	registry    *Registry
	broker      Broker
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	runCtx      context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, su stats.StatsProvider, broker Broker) (*ChatServer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &ChatServer{
		log:      logger,
		db:       db,
		stats:    su,
		registry: NewRegistry(),
		broker:   broker,
		clients:  make(map[*Client]struct{}),
		runCtx:   ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	for _, name := range []string{
		statActiveConnections,
		statActiveSubscriptions,
		statMessagesPersisted,
		statFramesBroadcast,
		statFramesDropped,
	} {
		cs.stats.RegisterMetric(name)
	}

	return cs, nil
}

// Run consumes broker deliveries until Shutdown. Without a broker there
// is nothing to consume and Run only waits.
func (cs *ChatServer) Run() {
	defer close(cs.done)

	if cs.broker == nil {
		<-cs.runCtx.Done()
		return
	}

	if err := cs.broker.Receive(cs.runCtx, cs.deliverLocal); err != nil && !errors.Is(err, context.Canceled) {
		cs.log.Println("broker receive:", err)
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(statActiveConnections)
	cs.log.Printf("registered connection %s for %q", c.id, c.user.Username)
}

// DeregisterClient drops the connection and all of its subscriptions.
// Pending broadcasts to other connections are unaffected.
func (cs *ChatServer) DeregisterClient(c *Client) {
	dropped := cs.registry.UnsubscribeAll(c)
	for i := 0; i < dropped; i++ {
		cs.stats.Decr(statActiveSubscriptions)
	}

	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr(statActiveConnections)
	cs.log.Printf("removed connection %s for %q", c.id, c.user.Username)
}

// Subscribe gates the registry add on membership: a non-member's
// subscribe is answered with not-found and leaves the registry
// untouched, so room traffic never leaks.
func (cs *ChatServer) Subscribe(c *Client, roomId string) {
	room, err := cs.db.GetRoomByExternalId(roomId)
	if err != nil {
		c.queueFrame(ErrRoomNotFound())
		return
	}

	if !cs.db.IsMember(room.Id, c.user.Id) {
		cs.log.Printf("conn %s: user %d is not a member of room %q", c.id, c.user.Id, roomId)
		c.queueFrame(ErrRoomNotFound())
		return
	}

	if cs.registry.Subscribe(roomId, c) {
		cs.stats.Incr(statActiveSubscriptions)
	}

	c.queueFrame(SubscribedFrame(roomId))
}

func (cs *ChatServer) Unsubscribe(c *Client, roomId string) {
	if cs.registry.Unsubscribe(roomId, c) {
		cs.stats.Decr(statActiveSubscriptions)
	}

	c.queueFrame(UnsubscribedFrame(roomId))
}

// SendMessage verifies membership, appends the message and broadcasts
// it. An idempotent replay acks the original message to the sender and
// is never re-broadcast.
func (cs *ChatServer) SendMessage(c *Client, frame *ClientFrame) {
	room, err := cs.db.GetRoomByExternalId(frame.Room)
	if err != nil {
		c.queueFrame(ErrRoomNotFound())
		return
	}

	if !cs.db.IsMember(room.Id, c.user.Id) {
		c.queueFrame(ErrRoomNotFound())
		return
	}

	msgType := frame.Type
	if msgType == "" {
		msgType = types.MessageTypeText
	}
	if !types.ValidMessageType(msgType) {
		c.queueFrame(ErrInvalidFrame())
		return
	}

	dbMsg, created, err := cs.db.CreateMessage(database.CreateMessageParams{
		RoomId:      room.Id,
		SenderId:    c.user.Id,
		Body:        frame.Body,
		Type:        msgType,
		ClientMsgId: frame.ClientMsgId,
	})
	if err != nil {
		cs.log.Println("create message:", err)
		if errors.Is(err, database.ErrUnavailable) {
			c.queueFrame(ErrServiceUnavailable())
		} else {
			c.queueFrame(ErrInternalError())
		}
		return
	}

	msg := &types.Message{
		Id:        dbMsg.Id,
		RoomId:    room.ExternalId,
		SenderId:  dbMsg.SenderId,
		Body:      dbMsg.Body,
		Type:      dbMsg.Type,
		CreatedAt: dbMsg.CreatedAt,
	}

	c.queueFrame(MessageAckFrame(msg))

	if created {
		cs.stats.Incr(statMessagesPersisted)
		cs.Publish(room.ExternalId, msg)
	}
}

func (cs *ChatServer) MarkRead(c *Client, frame *ClientFrame) {
	room, err := cs.db.GetRoomByExternalId(frame.Room)
	if err != nil {
		c.queueFrame(ErrRoomNotFound())
		return
	}

	if err := cs.db.UpdateLastRead(room.Id, c.user.Id, frame.MessageId); err != nil {
		cs.log.Println("update last read:", err)
		if errors.Is(err, database.ErrNotFound) {
			c.queueFrame(ErrRoomNotFound())
		} else {
			c.queueFrame(ErrInternalError())
		}
	}
}

// Publish delivers a newly persisted message to every subscriber of its
// room. Delivery is at-most-once per currently subscribed connection and
// best-effort; clients reconcile missed messages through the history
// read path.
func (cs *ChatServer) Publish(roomId string, msg *types.Message) {
	if cs.broker != nil {
		// A failed publish is not retried locally: the envelope may have
		// reached the channel despite the error, and the receive loop
		// already delivers every published envelope to local subscribers.
		// A miss here is recovered through history; a duplicate is not.
		if err := cs.broker.Publish(context.Background(), BroadcastEnvelope{RoomId: roomId, Message: msg}); err != nil {
			cs.log.Println("broker publish:", err)
		}
		return
	}

	cs.deliverLocal(BroadcastEnvelope{RoomId: roomId, Message: msg})
}

func (cs *ChatServer) deliverLocal(env BroadcastEnvelope) {
	for _, c := range cs.registry.Subscribers(env.RoomId) {
		if c.queueFrame(NewMessageFrame(env.Message)) {
			cs.stats.Incr(statFramesBroadcast)
		} else {
			cs.stats.Incr(statFramesDropped)
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
		delete(cs.clients, c)
	}
	cs.clientsLock.Unlock()

	cs.cancel()

	if cs.broker != nil {
		if err := cs.broker.Close(); err != nil {
			cs.log.Println("broker close:", err)
		}
	}

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
