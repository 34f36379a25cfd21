package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"naskahcollab/internal/collab/model"
	"naskahcollab/internal/collab/transport"
	"naskahcollab/pkg/idgen"
	"naskahcollab/pkg/logger"
)

// RelayOrigin marks events the hub synthesizes itself.
const RelayOrigin = "relay"

// Archiver persists versions carried by version-create events.
type Archiver interface {
	Save(ctx context.Context, documentID string, v model.Version) error
}

type archiveJob struct {
	documentID string
	version    model.Version
}

// Hub relays collaboration events between the clients of a document room.
// Every event goes to all members of the room, the sender included. With a
// bus attached, client events are published to the bus and rooms are fed
// from it, so several hub instances share one stream.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan model.Event
	Register   chan *Client
	Unregister chan *Client

	inbound  chan model.Event
	archive  chan archiveJob
	done     chan struct{}
	archiver Archiver
	bus      transport.Transport
	ids      idgen.Generator
	mu       sync.Mutex
}

type HubOption func(*Hub)

func WithArchiver(a Archiver) HubOption {
	return func(h *Hub) { h.archiver = a }
}

func WithBus(t transport.Transport) HubOption {
	return func(h *Hub) { h.bus = t }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan model.Event),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		inbound:    make(chan model.Event, 256),
		archive:    make(chan archiveJob, 256),
		done:       make(chan struct{}),
		ids:        idgen.Default,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bus != nil {
		h.bus.OnReceive(h.receive)
	}
	return h
}

func (h *Hub) receive(e model.Event) {
	select {
	case h.inbound <- e:
	case <-h.done:
	default:
		logger.Sugar.Warnf("Inbound queue full, dropping %s event %s", e.Type, e.ID)
	}
}

// Run is the hub's event loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.DocID] == nil {
				h.Rooms[client.DocID] = make(map[*Client]bool)
			}
			h.Rooms[client.DocID][client] = true
			h.mu.Unlock()
			logger.Sugar.Infof("User %s connected to room %s", client.UserID, client.DocID)

		case client := <-h.Unregister:
			if h.removeClient(client) {
				// tell the room in case the client vanished without leaving
				h.publish(ctx, h.leaveEvent(client))
			}

		case e := <-h.Broadcast:
			h.publish(ctx, e)

		case e := <-h.inbound:
			h.fanOut(e)
		}
	}
}

func (h *Hub) publish(ctx context.Context, e model.Event) {
	if h.bus == nil {
		h.fanOut(e)
		return
	}
	if err := h.bus.Send(ctx, e); err != nil {
		logger.Sugar.Errorf("Failed to publish %s to bus, relaying locally: %v", e.Type, err)
		h.fanOut(e)
	}
}

func (h *Hub) fanOut(e model.Event) {
	if e.Type == model.EventVersionCreate && h.archiver != nil {
		h.enqueueArchive(e)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}

	h.mu.Lock()
	clientsToSend := make([]*Client, 0, len(h.Rooms[e.DocumentID]))
	for client := range h.Rooms[e.DocumentID] {
		clientsToSend = append(clientsToSend, client)
	}
	h.mu.Unlock()

	for _, client := range clientsToSend {
		select {
		case client.Send <- payload:
		default:
			logger.Sugar.Warnf("Client %s's send buffer is full. Disconnecting.", client.UserID)
			h.removeClient(client)
		}
	}
}

func (h *Hub) enqueueArchive(e model.Event) {
	var p model.VersionPayload
	if err := e.Decode(&p); err != nil {
		logger.Sugar.Warnf("Not archiving malformed version event %s: %v", e.ID, err)
		return
	}
	select {
	case h.archive <- archiveJob{documentID: e.DocumentID, version: p.Version}:
	default:
		logger.Sugar.Warnf("Archive queue full, dropping version %s of doc %s", p.Version.ID, e.DocumentID)
	}
}

// ArchiveWorker writes queued versions until ctx is done.
func (h *Hub) ArchiveWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.archive:
			if h.archiver == nil {
				continue
			}
			saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := h.archiver.Save(saveCtx, job.documentID, job.version); err != nil {
				logger.Sugar.Errorf("Failed to archive version %s: %v", job.version.ID, err)
			} else {
				logger.Sugar.Debugf("Archived version %s of doc %s", job.version.ID, job.documentID)
			}
			cancel()
		}
	}
}

// removeClient drops client from its room and reports whether it was present.
func (h *Hub) removeClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.Rooms[client.DocID]
	if !ok || !room[client] {
		return false
	}
	delete(room, client)
	close(client.Send)
	if len(room) == 0 {
		delete(h.Rooms, client.DocID)
		logger.Sugar.Infof("Closed and cleaned up empty room: %s", client.DocID)
	}
	return true
}

func (h *Hub) leaveEvent(client *Client) model.Event {
	e, err := model.NewEvent(h.ids.New(), model.EventUserLeave, client.DocID, client.UserID, time.Now().UTC(), model.User{ID: client.UserID})
	if err != nil {
		logger.Sugar.Errorf("Failed to build leave event: %v", err)
	}
	e.Origin = RelayOrigin
	return e
}

// RoomSize returns the number of clients connected to docID.
func (h *Hub) RoomSize(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[docID])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for docID, clients := range h.Rooms {
		for client := range clients {
			client.Conn.Close()
			close(client.Send)
		}
		delete(h.Rooms, docID)
	}
}
