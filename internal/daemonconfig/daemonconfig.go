// Package daemonconfig patches the docker daemon configuration document.
//
// The document is owned by the host, not by swarmctl: only the
// insecure-registries key is touched and every other key is preserved verbatim.
package daemonconfig

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Path is the daemon configuration file on every host.
const Path = "/etc/docker/daemon.json"

// Key holds the list of registries trusted without TLS verification.
const Key = "insecure-registries"

var (
	// ErrMalformed is wrapped by errors about documents that cannot be patched.
	ErrMalformed = errors.New("malformed daemon config")
	// ErrNotList is wrapped when the document is sound but Key holds something
	// other than a list. Patch replaces the key alone in that case.
	ErrNotList = errors.New(Key + " is not a list")
)

// Empty is the default document used when the file is absent or unreadable.
var Empty = []byte("{}")

// Registries returns the insecure registries listed in doc.
func Registries(doc []byte) ([]string, error) {
	doc = normalize(doc)
	if err := validate(doc); err != nil {
		return nil, err
	}
	res := gjson.GetBytes(doc, Key)
	if !res.Exists() {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: found %s", ErrNotList, res.Type)
	}
	var out []string
	for _, v := range res.Array() {
		out = append(out, v.String())
	}
	return out, nil
}

// Patch appends registry to the insecure-registries list of doc. It reports
// changed=false and returns doc untouched when the registry is already listed.
// A Key that is not a list is replaced by a list holding only registry; every
// other key is kept.
func Patch(doc []byte, registry string) ([]byte, bool, error) {
	doc = normalize(doc)
	current, err := Registries(doc)
	replace := errors.Is(err, ErrNotList)
	if err != nil && !replace {
		return nil, false, err
	}
	for _, r := range current {
		if r == registry {
			return doc, false, nil
		}
	}

	var patched []byte
	if gjson.GetBytes(doc, Key).Exists() && !replace {
		patched, err = sjson.SetBytes(doc, Key+".-1", registry)
	} else {
		patched, err = sjson.SetBytes(doc, Key, []string{registry})
	}
	if err != nil {
		return nil, false, fmt.Errorf("set %s: %w", Key, err)
	}

	pretty := gjson.GetBytes(patched, "@pretty").Raw
	return append([]byte(pretty), '\n'), true, nil
}

func normalize(doc []byte) []byte {
	doc = bytes.TrimSpace(doc)
	if len(doc) == 0 {
		return Empty
	}
	return doc
}

func validate(doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return fmt.Errorf("%w: not valid JSON", ErrMalformed)
	}
	if !gjson.ParseBytes(doc).IsObject() {
		return fmt.Errorf("%w: top level is not an object", ErrMalformed)
	}
	return nil
}
