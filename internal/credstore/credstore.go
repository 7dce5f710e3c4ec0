// Package credstore persists the opaque linked-device authentication state.
//
// A credential directory holds two files: creds.json, the credential object
// as the transport emits it plus the SESSION label added here, and keys.db,
// a sqlite key store with one row per signal key. Nothing in this package
// returns a persistence failure to the connection loop as fatal; Save logs
// and reports false so the session can continue in memory.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/fortysix/internal/db"
	"github.com/zulandar/fortysix/internal/models"
)

const (
	// CredsFile is the JSON credential object inside the directory.
	CredsFile = "creds.json"
	// KeysFile is the sqlite key store inside the directory.
	KeysFile = "keys.db"
	// LabelField is the creds.json field carrying the session label.
	LabelField = "SESSION"
	// LabelPrefix starts every generated session label.
	LabelPrefix = "FortySix~"
	// BackupSuffix is appended to a creds.json that could not be parsed
	// before it is replaced.
	BackupSuffix = ".bak"
)

// errCorrupt marks a creds.json that exists but does not parse.
var errCorrupt = errors.New("credentials file is corrupt")

// State is the authentication state handed to the transport on connect.
type State struct {
	Creds map[string]json.RawMessage `json:"creds"`
	Keys  map[string]json.RawMessage `json:"keys"`
}

// Registered reports whether the credentials belong to a paired device.
func (s *State) Registered() bool {
	if s == nil {
		return false
	}
	var registered bool
	if raw, ok := s.Creds["registered"]; ok {
		_ = json.Unmarshal(raw, &registered)
	}
	return registered
}

// Label returns the SESSION label, or "" if none was generated yet.
func (s *State) Label() string {
	if s == nil {
		return ""
	}
	return stringField(s.Creds, LabelField)
}

// Update is a credential change emitted by the transport. Creds fields are
// merged over the stored object; a Keys entry whose value is nil or JSON null
// deletes that key.
type Update struct {
	Creds map[string]json.RawMessage
	Keys  map[string]json.RawMessage
}

// Opts configures a Store.
type Opts struct {
	Dir    string
	Logger *zap.Logger
}

// Store reads and writes one credential directory.
type Store struct {
	dir    string
	db     *gorm.DB
	log    *zap.Logger
	mu     sync.Mutex
	newTag func() string
}

// Open prepares dir (creating it if needed) and its key store.
func Open(opts Opts) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("credstore: directory is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: create %s: %w", opts.Dir, err)
	}
	gdb, err := db.Open(filepath.Join(opts.Dir, KeysFile))
	if err != nil {
		return nil, fmt.Errorf("credstore: %w", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		_ = db.Close(gdb)
		return nil, fmt.Errorf("credstore: %w", err)
	}
	return &Store{
		dir:    opts.Dir,
		db:     gdb,
		log:    log,
		newTag: func() string { return ulid.Make().String() },
	}, nil
}

// Dir returns the credential directory.
func (s *Store) Dir() string { return s.dir }

// Exists reports whether a credential object has been written.
func (s *Store) Exists() bool {
	return Exists(s.dir)
}

// Exists reports whether dir holds a credential object.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, CredsFile))
	return err == nil
}

// Load returns the stored state, or nil when the directory holds no
// credentials yet. An unreadable creds.json is logged and treated as absent.
func (s *Store) Load() *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.readCreds()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("credentials unreadable, starting fresh", zap.Error(err))
		}
		return nil
	}

	keys := make(map[string]json.RawMessage)
	var rows []models.AuthKey
	if err := s.db.Find(&rows).Error; err != nil {
		s.log.Warn("key store unreadable", zap.Error(err))
	}
	for _, r := range rows {
		keys[r.Type+"/"+r.ID] = json.RawMessage(r.Value)
	}
	return &State{Creds: creds, Keys: keys}
}

// Save merges u into the stored state. It never panics and never returns an
// error; failures are logged and reported as false.
func (s *Store) Save(u Update) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("credential save panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	ok = true
	if len(u.Creds) > 0 {
		if err := s.mergeCreds(u.Creds); err != nil {
			s.log.Error("persist credentials", zap.Error(err))
			ok = false
		}
	}
	if len(u.Keys) > 0 {
		if err := s.writeKeys(u.Keys); err != nil {
			s.log.Error("persist keys", zap.Error(err), zap.Int("keys", len(u.Keys)))
			ok = false
		}
	}
	return ok
}

// EnsureLabel returns the session label, generating and persisting one when
// the credential object has none. The second result is false only when a
// freshly generated label could not be written; the label is still usable
// for the life of the process.
func (s *Store) EnsureLabel() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.readCreds()
	if err == nil {
		if label := stringField(creds, LabelField); label != "" {
			return label, true
		}
	}

	label := LabelPrefix + strings.ToLower(s.newTag())
	raw, _ := json.Marshal(label)
	if err := s.mergeCreds(map[string]json.RawMessage{LabelField: raw}); err != nil {
		s.log.Warn("could not save session label", zap.Error(err))
		return label, false
	}
	s.log.Info("session label created", zap.String("label", label))
	return label, true
}

// Close releases the key store.
func (s *Store) Close() error {
	return db.Close(s.db)
}

// Reset removes the credential directory and everything in it.
func Reset(dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("credstore: refusing to remove %q", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("credstore: reset %s: %w", dir, err)
	}
	return nil
}

// Inspect reads the credential object of dir without opening the key store.
// It returns nil, nil when the directory holds no credentials.
func Inspect(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, CredsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: read: %w", err)
	}
	creds := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("credstore: parse %s: %w", CredsFile, err)
	}
	return &State{Creds: creds}, nil
}

func (s *Store) credsPath() string { return filepath.Join(s.dir, CredsFile) }

func (s *Store) readCreds() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.credsPath())
	if err != nil {
		return nil, err
	}
	creds := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", errCorrupt, CredsFile, err)
	}
	return creds, nil
}

// mergeCreds overlays fields on the current creds.json, keeping every field
// the update does not name. Caller holds s.mu.
func (s *Store) mergeCreds(fields map[string]json.RawMessage) error {
	creds, err := s.readCreds()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		creds = make(map[string]json.RawMessage)
	case errors.Is(err, errCorrupt):
		// Load already treated this file as absent, so the new state replaces it.
		backup := s.credsPath() + BackupSuffix
		if rerr := os.Rename(s.credsPath(), backup); rerr != nil {
			s.log.Warn("could not keep corrupt credentials", zap.Error(rerr))
		} else {
			s.log.Warn("corrupt credentials moved aside", zap.String("backup", backup), zap.Error(err))
		}
		creds = make(map[string]json.RawMessage)
	default:
		return err
	}
	for k, v := range fields {
		creds[k] = v
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", CredsFile, err)
	}
	return writeFileAtomic(s.credsPath(), data)
}

// writeKeys upserts or deletes key rows in one transaction.
func (s *Store) writeKeys(keys map[string]json.RawMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for addr, value := range keys {
			typ, id, ok := strings.Cut(addr, "/")
			if !ok || typ == "" || id == "" {
				return fmt.Errorf("malformed key address %q", addr)
			}
			if isNull(value) {
				if err := tx.Where("type = ? AND id = ?", typ, id).Delete(&models.AuthKey{}).Error; err != nil {
					return fmt.Errorf("delete key %s: %w", addr, err)
				}
				continue
			}
			row := models.AuthKey{Type: typ, ID: id, Value: string(value)}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "type"}, {Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("upsert key %s: %w", addr, err)
			}
		}
		return nil
	})
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".creds-*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	t := strings.TrimSpace(string(v))
	return t == "" || t == "null"
}

func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
