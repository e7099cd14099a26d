// Package journal records the event traffic of each game room to disk so
// finished matches can be replayed or audited. The event log is a
// snappy-framed JSONL stream; authoritative state frames are archived with
// zstd. Journal failures never affect live delivery.
package journal

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"transcendence/coordinator/internal/protocol"
)

const (
	eventsFileName   = "events.jsonl.sz"
	framesFileName   = "frames.bin.zst"
	manifestFileName = "manifest.json"
)

// Manifest describes the journal bundle layout for tooling.
type Manifest struct {
	Version    int    `json:"version"`
	GameID     string `json:"game_id"`
	CreatedAt  string `json:"created_at"`
	EventsPath string `json:"events_path"`
	FramesPath string `json:"frames_path"`
}

type matchWriter struct {
	mu          sync.Mutex
	dir         string
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
}

// Journal manages one writer per active game room.
type Journal struct {
	mu      sync.Mutex
	root    string
	now     func() time.Time
	writers map[string]*matchWriter
	log     *zap.Logger
}

// Option configures optional journal behaviour.
type Option func(*Journal)

// WithClock injects a deterministic time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(j *Journal) {
		if clock != nil {
			j.now = clock
		}
	}
}

// New constructs a journal rooted at the given directory.
func New(root string, log *zap.Logger, opts ...Option) (*Journal, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("journal root must be provided")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	j := &Journal{
		root:    root,
		now:     time.Now,
		writers: make(map[string]*matchWriter),
		log:     log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return j, nil
}

// Open prepares the journal bundle for a game. Opening an already open game
// is a no-op.
func (j *Journal) Open(gameID string) error {
	if j == nil || gameID == "" {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.writers[gameID]; ok {
		return nil
	}

	created := j.now().UTC()
	dir := filepath.Join(j.root, fmt.Sprintf("%s-%s", gameID, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	eventFile, err := os.Create(filepath.Join(dir, eventsFileName))
	if err != nil {
		return err
	}
	frameFile, err := os.Create(filepath.Join(dir, framesFileName))
	if err != nil {
		eventFile.Close()
		return err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return err
	}

	manifest := Manifest{
		Version:    1,
		GameID:     gameID,
		CreatedAt:  created.Format(time.RFC3339Nano),
		EventsPath: eventsFileName,
		FramesPath: framesFileName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, manifestFileName), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventFile.Close()
		return err
	}

	j.writers[gameID] = &matchWriter{
		dir:         dir,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
	}
	return nil
}

// Directory exposes the bundle directory for an open game journal.
func (j *Journal) Directory(gameID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if w, ok := j.writers[gameID]; ok {
		return w.dir
	}
	return ""
}

// Append implements the broadcaster sink: game-room emissions are recorded,
// everything else is ignored.
func (j *Journal) Append(roomKey string, event protocol.Event, payload []byte) {
	if j == nil {
		return
	}
	gameID, ok := gameIDFromRoom(roomKey)
	if !ok {
		return
	}
	j.mu.Lock()
	w := j.writers[gameID]
	j.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.appendEvent(j.now().UTC(), event, payload); err != nil {
		j.log.Warn("journal append failed",
			zap.String("game_id", gameID),
			zap.String("event", string(event)),
			zap.Error(err))
	}
}

// AppendFrame archives one authoritative state frame for the game.
func (j *Journal) AppendFrame(gameID string, payload []byte) {
	if j == nil {
		return
	}
	j.mu.Lock()
	w := j.writers[gameID]
	j.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.appendFrame(j.now().UTC(), payload); err != nil {
		j.log.Warn("journal frame append failed",
			zap.String("game_id", gameID),
			zap.Error(err))
	}
}

// Close flushes and closes the bundle for a finished game.
func (j *Journal) Close(gameID string) error {
	j.mu.Lock()
	w := j.writers[gameID]
	delete(j.writers, gameID)
	j.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.close()
}

// CloseAll closes every open bundle, typically at shutdown.
func (j *Journal) CloseAll() {
	j.mu.Lock()
	writers := j.writers
	j.writers = make(map[string]*matchWriter)
	j.mu.Unlock()
	for gameID, w := range writers {
		if err := w.close(); err != nil {
			j.log.Warn("journal close failed", zap.String("game_id", gameID), zap.Error(err))
		}
	}
}

func gameIDFromRoom(roomKey string) (string, bool) {
	const prefix = "games"
	if !strings.HasPrefix(roomKey, prefix) || len(roomKey) == len(prefix) {
		return "", false
	}
	return roomKey[len(prefix):], true
}

func (w *matchWriter) appendEvent(at time.Time, event protocol.Event, payload []byte) error {
	record := struct {
		At         string `json:"at"`
		Event      string `json:"event"`
		PayloadB64 string `json:"payload_b64"`
	}{
		At:         at.Format(time.RFC3339Nano),
		Event:      string(event),
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := w.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// appendFrame writes a length-prefixed frame so replayers can step without
// parsing payloads.
func (w *matchWriter) appendFrame(at time.Time, payload []byte) error {
	header := make([]byte, 8+4)
	binary.LittleEndian.PutUint64(header[0:8], uint64(at.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.frameStream.Write(header); err != nil {
		return err
	}
	_, err := w.frameStream.Write(payload)
	return err
}

func (w *matchWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	if err := w.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
