// Package listener implements the event listener (C5): consumes frames
// from the controller's WebSocket via the wire codec and drives the
// event-lifecycle state machine described in spec.md §4.5.
package listener

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/logging"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/wire"
)

// Connector opens the recorder's event WebSocket. Implemented by
// *controller.Client; named narrowly here so the listener depends on a
// capability, not the whole client.
type Connector interface {
	ConnectEvents(ctx context.Context) (*websocket.Conn, error)
}

// Ledger is the subset of *ledger.Ledger the listener writes to.
type Ledger interface {
	UpsertEvent(ctx context.Context, e domain.Event) error
	GetEventByID(ctx context.Context, id string) (domain.Event, bool, error)
}

// reconnectBackoff bounds how quickly the listener retries a dropped
// WebSocket connection.
const reconnectBackoff = 5 * time.Second

// Listener owns the websocket read loop and the frame classification state
// machine.
type Listener struct {
	connector Connector
	ledger    Ledger
	bootstrap func() domain.Bootstrap
	log       *logging.Logger
}

// New constructs a Listener. bootstrapFn is polled for the current
// Bootstrap snapshot on every CompletedEvent so camera name enrichment
// reflects whatever the supervisor fetched at startup (spec.md §4.5).
func New(connector Connector, ledger Ledger, bootstrapFn func() domain.Bootstrap) *Listener {
	return &Listener{
		connector: connector,
		ledger:    ledger,
		bootstrap: bootstrapFn,
		log:       logging.L().With(logging.String("component", "listener")),
	}
}

// Run connects and consumes frames until ctx is cancelled, transparently
// reconnecting on transport failures (spec.md §7: WsError is not fatal to
// the listener). It only returns when ctx is done, making it suitable as
// one of the supervisor's concurrently-started tasks.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := l.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			l.log.Warn("event stream disconnected, reconnecting", logging.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, err := l.connector.ConnectEvents(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	l.log.Info("event stream connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return &apperr.WsError{Op: "read_message", Err: err}
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if err := l.handleFrame(ctx, data); err != nil {
			// Malformed individual frames never abort the connection
			// (spec.md §4.2, §7).
			l.log.Warn("dropping malformed frame", logging.Error(err))
		}
	}
}

func (l *Listener) handleFrame(ctx context.Context, data []byte) error {
	msg, err := wire.Decode(data)
	if err != nil {
		return err
	}

	switch classify(msg) {
	case kindNewMotionEvent:
		return l.handleNewMotionEvent(ctx, msg)
	case kindCompletedEvent:
		return l.handleCompletedEvent(ctx, msg)
	default:
		return nil
	}
}

type frameKind int

const (
	kindOther frameKind = iota
	kindNewMotionEvent
	kindCompletedEvent
)

// classify maps a decoded (Action, Data) pair to one of the three cases in
// spec.md §4.5.
func classify(msg wire.Message) frameKind {
	if msg.Action.Action == wire.ActionAdd && msg.Data.Kind == string(domain.EventMotion) &&
		msg.Data.ID != "" && msg.Data.Start != nil {
		return kindNewMotionEvent
	}
	if msg.Action.Action == wire.ActionUpdate && msg.Data.End != nil {
		return kindCompletedEvent
	}
	return kindOther
}

// handleNewMotionEvent durably records an event's start so that a restart
// between start and end cannot lose it (spec.md §4.5, §4.3 Pending-Start
// map note).
func (l *Listener) handleNewMotionEvent(ctx context.Context, msg wire.Message) error {
	event := domain.Event{
		ID:          msg.Data.ID,
		EventType:   domain.EventMotion,
		CameraID:    msg.Action.RecordID,
		StartTimeMs: *msg.Data.Start,
		EndTimeMs:   nil,
		BackedUp:    false,
	}
	if err := l.ledger.UpsertEvent(ctx, event); err != nil {
		return err
	}
	l.log.Info("recorded event start", logging.EventID(event.ID), logging.CameraID(event.CameraID))
	return nil
}

// handleCompletedEvent finalizes an event's end time. An end with no
// matching start is a warning, not an error: recovery would require the
// event-history API spec.md explicitly declines to model.
func (l *Listener) handleCompletedEvent(ctx context.Context, msg wire.Message) error {
	id := msg.Action.ID
	existing, found, err := l.ledger.GetEventByID(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		l.log.Warn("completed event has no recorded start, dropping", logging.EventID(id))
		return nil
	}

	existing.EndTimeMs = msg.Data.End
	if bs := l.bootstrap(); existing.CameraID != "" {
		if cam, ok := bs.Cameras[existing.CameraID]; ok {
			existing.CameraName = cam.Name
		}
	}
	// BackedUp is deliberately left untouched here (spec.md §4.5); only
	// the dispatcher ever sets it true.
	return l.ledger.UpsertEvent(ctx, existing)
}
