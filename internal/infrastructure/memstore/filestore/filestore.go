// Package filestore implements memstore.Store as a tree of YAML files, one
// directory per session under a configured root.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nine5427/memengine/internal/domain/memengine"
	"github.com/nine5427/memengine/internal/infrastructure/memstore"
	"github.com/nine5427/memengine/pkg/errors"
)

const (
	manifestFile = "session.yaml"
	systemFile   = "system_messages.yaml"
	messagesFile = "messages.yaml"
	summaryFile  = "summaries.yaml"
	indexFile    = ".index.yaml"
)

// Store is a file-tree backed memstore.Store. Each session lives under
// root/<id>/ and every mutation is written atomically (tmp file + rename).
// A single mutex serializes writes to the root index; per-session writes
// are serialized by a per-session lock held for the duration of the call.
type Store struct {
	root string

	mu       sync.Mutex
	sessions map[memstore.SessionID]*sync.Mutex
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewPersistenceFailedError("create store root", err)
	}
	return &Store{root: dir, sessions: make(map[memstore.SessionID]*sync.Mutex)}, nil
}

func (s *Store) lockFor(id memstore.SessionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[id]
	if !ok {
		l = &sync.Mutex{}
		s.sessions[id] = l
	}
	return l
}

func (s *Store) sessionDir(id memstore.SessionID) string {
	return filepath.Join(s.root, string(id))
}

type manifestFileModel struct {
	ID        string                 `yaml:"id"`
	CreatedAt time.Time              `yaml:"created_at"`
	UpdatedAt time.Time              `yaml:"updated_at"`
	Metadata  map[string]interface{} `yaml:"metadata,omitempty"`
	Config    *memengine.Config      `yaml:"config,omitempty"`
}

type indexEntry struct {
	ID        string    `yaml:"id"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

type indexFileModel struct {
	Sessions []indexEntry `yaml:"sessions"`
}

func writeYAMLAtomic(path string, v interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readYAML(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, v)
}

// CreateSession allocates a new session directory and writes its manifest.
func (s *Store) CreateSession(ctx context.Context, metadata map[string]interface{}, cfg *memengine.Config) (memstore.SessionID, error) {
	id := memstore.SessionID(uuid.New().String())
	dir := s.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewPersistenceFailedError("create session dir", err)
	}

	now := time.Now().UTC()
	man := manifestFileModel{
		ID:        string(id),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
		Config:    cfg,
	}
	if err := writeYAMLAtomic(filepath.Join(dir, manifestFile), man); err != nil {
		return "", errors.NewPersistenceFailedError("write session manifest", err)
	}
	if err := s.appendIndex(indexEntry{ID: string(id), CreatedAt: now, UpdatedAt: now}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) appendIndex(entry indexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.root, indexFile)
	var idx indexFileModel
	_ = readYAML(path, &idx)

	idx.Sessions = append(idx.Sessions, entry)
	if err := writeYAMLAtomic(path, idx); err != nil {
		return errors.NewPersistenceFailedError("write session index", err)
	}
	return nil
}

func (s *Store) touchIndex(id memstore.SessionID, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.root, indexFile)
	var idx indexFileModel
	_ = readYAML(path, &idx)

	for i := range idx.Sessions {
		if idx.Sessions[i].ID == string(id) {
			idx.Sessions[i].UpdatedAt = updatedAt
			return writeYAMLAtomic(path, idx)
		}
	}
	return nil
}

func (s *Store) removeFromIndex(id memstore.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.root, indexFile)
	var idx indexFileModel
	if err := readYAML(path, &idx); err != nil {
		return nil
	}

	out := idx.Sessions[:0]
	for _, e := range idx.Sessions {
		if e.ID != string(id) {
			out = append(out, e)
		}
	}
	idx.Sessions = out
	return writeYAMLAtomic(path, idx)
}

func (s *Store) manifestPath(id memstore.SessionID) string {
	return filepath.Join(s.sessionDir(id), manifestFile)
}

// SaveMessage appends one message to messages.yaml (or system_messages.yaml
// for system-role messages). tokens is currently unused by this backend;
// per-message token accounting lives in the Manager, not the store.
func (s *Store) SaveMessage(ctx context.Context, session memstore.SessionID, msg memengine.Message, tokens int) error {
	lock := s.lockFor(session)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(session)
	if _, err := os.Stat(s.manifestPath(session)); err != nil {
		return errors.NewSessionNotFoundError(fmt.Sprintf("session %s not found", session))
	}

	fname := messagesFile
	if msg.Role == memengine.RoleSystem {
		fname = systemFile
	}
	path := filepath.Join(dir, fname)

	var wire []memstore.WireMessage
	_ = readYAML(path, &wire)
	wire = append(wire, memstore.ToWireMessage(msg))
	if err := writeYAMLAtomic(path, wire); err != nil {
		return errors.NewPersistenceFailedError("append message", err)
	}

	return s.touchIndex(session, time.Now().UTC())
}

// SaveMemory overwrites the full memory state for a session in one shot,
// used for periodic snapshotting and after compression.
func (s *Store) SaveMemory(ctx context.Context, session memstore.SessionID, systemMessages, messages []memengine.Message, summaries []memengine.Summary) error {
	lock := s.lockFor(session)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(session)
	if _, err := os.Stat(s.manifestPath(session)); err != nil {
		return errors.NewSessionNotFoundError(fmt.Sprintf("session %s not found", session))
	}

	sysWire := make([]memstore.WireMessage, 0, len(systemMessages))
	for _, m := range systemMessages {
		sysWire = append(sysWire, memstore.ToWireMessage(m))
	}
	if err := writeYAMLAtomic(filepath.Join(dir, systemFile), sysWire); err != nil {
		return errors.NewPersistenceFailedError("write system messages", err)
	}

	msgWire := make([]memstore.WireMessage, 0, len(messages))
	for _, m := range messages {
		msgWire = append(msgWire, memstore.ToWireMessage(m))
	}
	if err := writeYAMLAtomic(filepath.Join(dir, messagesFile), msgWire); err != nil {
		return errors.NewPersistenceFailedError("write messages", err)
	}

	sumWire := make([]memstore.WireSummary, 0, len(summaries))
	for _, sm := range summaries {
		sumWire = append(sumWire, memstore.ToWireSummary(sm))
	}
	if err := writeYAMLAtomic(filepath.Join(dir, summaryFile), sumWire); err != nil {
		return errors.NewPersistenceFailedError("write summaries", err)
	}

	return s.touchIndex(session, time.Now().UTC())
}

// LoadSession reads back the full session state. It returns (nil, nil) if
// no session with this ID exists; a non-nil error means the manifest exists
// but could not be read.
func (s *Store) LoadSession(ctx context.Context, session memstore.SessionID) (*memstore.SessionData, error) {
	lock := s.lockFor(session)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(session)
	manifestPath := filepath.Join(dir, manifestFile)
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, nil
	}

	var man manifestFileModel
	if err := readYAML(manifestPath, &man); err != nil {
		return nil, errors.NewPersistenceFailedError("read session manifest", err)
	}

	var sysWire, msgWire []memstore.WireMessage
	var sumWire []memstore.WireSummary
	_ = readYAML(filepath.Join(dir, systemFile), &sysWire)
	_ = readYAML(filepath.Join(dir, messagesFile), &msgWire)
	_ = readYAML(filepath.Join(dir, summaryFile), &sumWire)

	systemMessages, err := fromWireMessages(sysWire)
	if err != nil {
		return nil, err
	}
	messages, err := fromWireMessages(msgWire)
	if err != nil {
		return nil, err
	}
	summaries := make([]memengine.Summary, 0, len(sumWire))
	for _, w := range sumWire {
		sm, err := memstore.FromWireSummary(w)
		if err != nil {
			return nil, errors.NewPersistenceFailedError("decode summary", err)
		}
		summaries = append(summaries, sm)
	}

	compressionCount := len(summaries)
	return &memstore.SessionData{
		Manifest: memstore.SessionManifest{
			ID:        session,
			CreatedAt: man.CreatedAt,
			UpdatedAt: man.UpdatedAt,
			Metadata:  man.Metadata,
			Config:    man.Config,
		},
		SystemMessages: systemMessages,
		Messages:       messages,
		Summaries:      summaries,
		Stats: memstore.SessionStats{
			MessageCount:       len(messages),
			SystemMessageCount: len(systemMessages),
			SummaryCount:       len(summaries),
			CompressionCount:   compressionCount,
		},
	}, nil
}

func fromWireMessages(wire []memstore.WireMessage) ([]memengine.Message, error) {
	out := make([]memengine.Message, 0, len(wire))
	for _, w := range wire {
		m, err := memstore.FromWireMessage(w)
		if err != nil {
			return nil, errors.NewPersistenceFailedError("decode message", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ListSessions returns session summaries ordered newest-updated first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]memstore.SessionSummary, error) {
	s.mu.Lock()
	var idx indexFileModel
	_ = readYAML(filepath.Join(s.root, indexFile), &idx)
	s.mu.Unlock()

	entries := append([]indexEntry(nil), idx.Sessions...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })

	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	out := make([]memstore.SessionSummary, 0, len(entries))
	for _, e := range entries {
		data, err := s.LoadSession(ctx, memstore.SessionID(e.ID))
		if err != nil || data == nil {
			continue
		}
		out = append(out, memstore.SessionSummary{
			ID:                 data.Manifest.ID,
			CreatedAt:          data.Manifest.CreatedAt,
			UpdatedAt:          data.Manifest.UpdatedAt,
			MessageCount:       data.Stats.MessageCount,
			SystemMessageCount: data.Stats.SystemMessageCount,
			SummaryCount:       data.Stats.SummaryCount,
			CompressionCount:   data.Stats.CompressionCount,
			Preview:            memstore.PreviewFrom(data.Messages),
		})
	}
	return out, nil
}

// DeleteSession removes a session's directory and index entry.
func (s *Store) DeleteSession(ctx context.Context, session memstore.SessionID) (bool, error) {
	lock := s.lockFor(session)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(session)
	if _, err := os.Stat(dir); err != nil {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, errors.NewPersistenceFailedError("remove session dir", err)
	}
	if err := s.removeFromIndex(session); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateSessionMetadata merges new keys into the session manifest's metadata.
func (s *Store) UpdateSessionMetadata(ctx context.Context, session memstore.SessionID, metadata map[string]interface{}) (bool, error) {
	lock := s.lockFor(session)
	lock.Lock()
	defer lock.Unlock()

	path := s.manifestPath(session)
	var man manifestFileModel
	if err := readYAML(path, &man); err != nil {
		return false, nil
	}

	if man.Metadata == nil {
		man.Metadata = make(map[string]interface{})
	}
	for k, v := range metadata {
		man.Metadata[k] = v
	}
	man.UpdatedAt = time.Now().UTC()

	if err := writeYAMLAtomic(path, man); err != nil {
		return false, errors.NewPersistenceFailedError("update session metadata", err)
	}
	if err := s.touchIndex(session, man.UpdatedAt); err != nil {
		return false, err
	}
	return true, nil
}

// GetSessionStats returns counts without decoding message content payloads
// beyond what LoadSession already requires.
func (s *Store) GetSessionStats(ctx context.Context, session memstore.SessionID) (*memstore.SessionStats, error) {
	data, err := s.LoadSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return &data.Stats, nil
}

// FindLatestSession returns the most recently updated session, if any.
func (s *Store) FindLatestSession(ctx context.Context) (memstore.SessionID, bool, error) {
	sessions, err := s.ListSessions(ctx, 1, 0)
	if err != nil {
		return "", false, err
	}
	if len(sessions) == 0 {
		return "", false, nil
	}
	return sessions[0].ID, true, nil
}

// FindSessionByPrefix resolves a short ID prefix to a full session ID.
// An ambiguous prefix (matching more than one session) returns not-found
// rather than guessing.
func (s *Store) FindSessionByPrefix(ctx context.Context, prefix string) (memstore.SessionID, bool, error) {
	s.mu.Lock()
	var idx indexFileModel
	_ = readYAML(filepath.Join(s.root, indexFile), &idx)
	s.mu.Unlock()

	var match memstore.SessionID
	matches := 0
	for _, e := range idx.Sessions {
		if strings.HasPrefix(e.ID, prefix) {
			matches++
			match = memstore.SessionID(e.ID)
		}
	}
	if matches == 1 {
		return match, true, nil
	}
	return "", false, nil
}
