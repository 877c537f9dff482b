package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite" // sqlite driver for the whatsmeow device store
)

// eventBufferSize bounds the lifecycle event channel. The session
// manager consumes events promptly; overflow is dropped with a warning
// rather than blocking the whatsmeow callback goroutine.
const eventBufferSize = 32

// SessionStore owns the whatsmeow device container. It outlives
// individual drivers: the session manager creates a fresh driver from
// it on every (re)initialization and wipes it on auth failures.
type SessionStore struct {
	container *sqlstore.Container
}

// OpenSessionStore opens (or creates) the sqlite-backed device store.
func OpenSessionStore(ctx context.Context, dbPath string) (*SessionStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", dbPath)
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &SessionStore{container: container}, nil
}

// NewDriver constructs a WhatsApp driver bound to the stored device
// (or a fresh unpaired device when none exists).
func (s *SessionStore) NewDriver(ctx context.Context) (Driver, error) {
	device, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	client := whatsmeow.NewClient(device, waLog.Noop)
	return &WhatsApp{
		client: client,
		events: make(chan Event, eventBufferSize),
	}, nil
}

// Wipe deletes all stored devices so the next driver starts from a
// clean pairing. Implements CredentialStore.
func (s *SessionStore) Wipe(ctx context.Context) error {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, dev := range devices {
		if err := s.container.DeleteDevice(ctx, dev); err != nil {
			return fmt.Errorf("delete device %s: %w", dev.ID, err)
		}
	}
	return nil
}

// WhatsApp is the production Driver backed by whatsmeow.
type WhatsApp struct {
	client *whatsmeow.Client

	mu       sync.Mutex
	events   chan Event
	closed   bool
	authSeen bool
}

var _ Driver = (*WhatsApp)(nil)

// Connect registers the lifecycle handler and opens the socket. Pairing
// and login progress arrives through Events.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.client.AddEventHandler(w.handleEvent)

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}

	// A stored device skips the QR exchange entirely: report the
	// credential link now so the lifecycle still passes through the
	// authenticating stage before ready.
	if w.client.Store.ID != nil {
		w.emitAuthenticated()
	}
	return nil
}

// Disconnect closes the socket and the event stream. Idempotent.
func (w *WhatsApp) Disconnect() {
	w.client.RemoveEventHandlers()
	w.client.Disconnect()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
}

func (w *WhatsApp) Events() <-chan Event { return w.events }

// IsRegistered checks the address against the network directory.
func (w *WhatsApp) IsRegistered(ctx context.Context, address string) (bool, error) {
	resp, err := w.client.IsOnWhatsApp(ctx, []string{"+" + address})
	if err != nil {
		return false, fmt.Errorf("registration lookup for %s: %w", address, err)
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

// SendText delivers a plain conversation message.
func (w *WhatsApp) SendText(ctx context.Context, address, text string) error {
	jid := types.NewJID(address, types.DefaultUserServer)
	_, err := w.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send text to %s: %w", address, err)
	}
	return nil
}

// SendAttachment uploads the payload to the media servers and sends the
// matching media message type.
func (w *WhatsApp) SendAttachment(ctx context.Context, address string, att Attachment) error {
	data, err := io.ReadAll(att.Data)
	if err != nil {
		return fmt.Errorf("read attachment %s: %w", att.FileName, err)
	}

	mediaType := mediaTypeFor(att)
	upload, err := w.client.Upload(ctx, data, mediaType)
	if err != nil {
		return fmt.Errorf("upload attachment %s: %w", att.FileName, err)
	}

	msg := buildMediaMessage(att, upload, uint64(len(data)))
	jid := types.NewJID(address, types.DefaultUserServer)
	if _, err := w.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send attachment %s to %s: %w", att.FileName, address, err)
	}
	return nil
}

// handleEvent maps whatsmeow events onto the driver lifecycle.
func (w *WhatsApp) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.QR:
		for _, code := range e.Codes {
			w.emit(Event{Kind: EventPairingChallenge, Code: code})
			break // only the first code; rotations re-fire the event
		}
	case *events.PairSuccess:
		w.emitAuthenticated()
	case *events.Connected:
		w.emitAuthenticated()
		w.emit(Event{Kind: EventReady})
	case *events.LoggedOut:
		w.emit(Event{Kind: EventAuthFailed, Reason: e.Reason.String()})
	case *events.StreamError:
		w.emit(Event{Kind: EventDisconnected, Reason: "stream error: " + e.Code})
	case *events.Disconnected:
		w.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})
	}
}

// emitAuthenticated fires the authenticated event at most once per
// driver so the connected handler can call it unconditionally.
func (w *WhatsApp) emitAuthenticated() {
	w.mu.Lock()
	seen := w.authSeen
	w.authSeen = true
	w.mu.Unlock()
	if !seen {
		w.emit(Event{Kind: EventAuthenticated})
	}
}

func (w *WhatsApp) emit(ev Event) {
	ev.At = time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		slog.Warn("driver event buffer full, dropping event", "kind", ev.Kind)
	}
}

func mediaTypeFor(att Attachment) whatsmeow.MediaType {
	switch {
	case att.VideoAsDocument:
		return whatsmeow.MediaDocument
	case strings.HasPrefix(att.Mime, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(att.Mime, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(att.Mime, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(att Attachment, up whatsmeow.UploadResponse, size uint64) *waE2E.Message {
	switch mediaTypeFor(att) {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(att.Caption),
			Mimetype:      proto.String(att.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(att.Caption),
			Mimetype:      proto.String(att.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(att.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(att.FileName),
			FileName:      proto.String(att.FileName),
			Caption:       proto.String(att.Caption),
			Mimetype:      proto.String(att.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	}
}
