// Package bundle holds the immutable message snapshots fetched from the
// remote store, the candidate key computation and the message formatter.
package bundle

import (
	"sync"

	"github.com/new1943/msgsource/locale"
)

type formatKey struct {
	code   string
	locale locale.Locale
}

// Snapshot is one fetched copy of a remote key. Its messages never change;
// a refresh installs a new Snapshot instead.
type Snapshot struct {
	key      string
	version  uint64
	messages map[string]string

	formats sync.Map // formatKey -> *MessageFormat
}

// NewSnapshot wraps already parsed messages. The map is owned by the snapshot
// afterwards.
func NewSnapshot(key string, version uint64, messages map[string]string) *Snapshot {
	if messages == nil {
		messages = map[string]string{}
	}
	return &Snapshot{key: key, version: version, messages: messages}
}

// Load parses raw bundle text into a snapshot.
func Load(key, raw string, version uint64, enc Encoding) (*Snapshot, error) {
	messages, err := Parse(raw, enc)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(key, version, messages), nil
}

// Key is the store key the snapshot was fetched from.
func (s *Snapshot) Key() string {
	return s.key
}

// Version is the store version index, zero for stores without one.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len is the number of message codes held.
func (s *Snapshot) Len() int {
	return len(s.messages)
}

// Get returns the raw template for code.
func (s *Snapshot) Get(code string) (string, bool) {
	msg, ok := s.messages[code]
	return msg, ok
}

// Format returns the compiled formatter for code under loc, compiling it on
// first use. Concurrent first uses may both compile; the first stored wins.
func (s *Snapshot) Format(code string, loc locale.Locale) (*MessageFormat, bool, error) {
	key := formatKey{code: code, locale: loc}
	if cached, ok := s.formats.Load(key); ok {
		return cached.(*MessageFormat), true, nil //nolint:forcetypeassert // formats only holds *MessageFormat
	}

	msg, ok := s.messages[code]
	if !ok {
		return nil, false, nil
	}

	compiled, err := Compile(msg, loc)
	if err != nil {
		return nil, false, err
	}

	actual, _ := s.formats.LoadOrStore(key, compiled)
	return actual.(*MessageFormat), true, nil //nolint:forcetypeassert // formats only holds *MessageFormat
}
