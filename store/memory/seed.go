package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/magiconair/properties"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"gopkg.in/yaml.v3"

	"github.com/new1943/msgsource/locale"
)

//nolint:gochecknoglobals // read-only format table
var unmarshalFuncs = map[string]i18n.UnmarshalFunc{
	"toml": toml.Unmarshal,
	"yaml": yaml.Unmarshal,
	"yml":  yaml.Unmarshal,
	"json": json.Unmarshal,
}

// Seed stores every bundle found at the top level of fsys and returns the
// keys written. messages_fr.properties is stored verbatim as messages_fr;
// go-i18n message files such as messages.fr.toml are converted to
// properties text under the same key.
func (s *Store) Seed(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		key, raw, ok, err := readBundle(fsys, entry.Name())
		if err != nil {
			return keys, err
		}
		if !ok {
			continue
		}

		s.Put(key, raw)
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys, nil
}

func readBundle(fsys fs.FS, name string) (string, string, bool, error) {
	ext := strings.TrimPrefix(path.Ext(name), ".")

	if ext == "properties" {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return "", "", false, err
		}
		return strings.TrimSuffix(name, ".properties"), string(raw), true, nil
	}

	if _, ok := unmarshalFuncs[ext]; !ok {
		return "", "", false, nil
	}

	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", "", false, err
	}

	mf, err := i18n.ParseMessageFileBytes(raw, name, unmarshalFuncs)
	if err != nil {
		return "", "", false, fmt.Errorf("parse %s: %w", name, err)
	}

	basename, _, _ := strings.Cut(name, ".")
	key := basename
	if loc := locale.FromTag(mf.Tag); !loc.IsRoot() {
		key = basename + "_" + loc.String()
	}

	text, err := toProperties(mf.Messages)
	if err != nil {
		return "", "", false, fmt.Errorf("convert %s: %w", name, err)
	}
	return key, text, true, nil
}

// toProperties keeps the "other" plural form, or "one" when a message has
// no other form.
func toProperties(messages []*i18n.Message) (string, error) {
	props := properties.NewProperties()
	for _, msg := range messages {
		text := msg.Other
		if text == "" {
			text = msg.One
		}
		if _, _, err := props.Set(msg.ID, text); err != nil {
			return "", err
		}
	}
	props.Sort()

	var buf bytes.Buffer
	if _, err := props.Write(&buf, properties.UTF8); err != nil {
		return "", err
	}
	return buf.String(), nil
}
