// Package caip2 implements CAIP-2 blockchain identifiers, the
// "namespace:reference" strings used throughout the oracle to name chains
// independently of any single client library's chain enumeration.
package caip2

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a validated CAIP-2 chain identifier.
type ID struct {
	namespace string
	reference string
}

// Parse validates s as a CAIP-2 identifier: a namespace of 3-8 ASCII
// alphanumerics-or-hyphens, a colon, and a reference of 1-32 ASCII
// alphanumerics-or-hyphens.
func Parse(s string) (ID, error) {
	namespace, reference, ok := strings.Cut(s, ":")
	if !ok {
		return ID{}, fmt.Errorf("caip2: %q missing ':' separator", s)
	}
	if len(namespace) < 3 || len(namespace) > 8 || !isAlnumHyphen(namespace) {
		return ID{}, fmt.Errorf("caip2: %q has an invalid namespace %q", s, namespace)
	}
	if len(reference) < 1 || len(reference) > 32 || !isAlnumHyphen(reference) {
		return ID{}, fmt.Errorf("caip2: %q has an invalid reference %q", s, reference)
	}
	return ID{namespace: namespace, reference: reference}, nil
}

// MustParse is Parse but panics on error; for use with constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical "namespace:reference" form.
func (id ID) String() string {
	return id.namespace + ":" + id.reference
}

// Namespace returns the chain namespace, e.g. "eip155".
func (id ID) Namespace() string { return id.namespace }

// Reference returns the chain reference, e.g. a decimal chain id string.
func (id ID) Reference() string { return id.reference }

// IsEIP155 reports whether id uses the eip155 namespace, under which the
// reference is an EVM chain id.
func (id ID) IsEIP155() bool { return id.namespace == "eip155" }

// ChainID returns the numeric EVM chain id for an eip155 identifier. It
// fails for any other namespace.
func (id ID) ChainID() (uint64, error) {
	if !id.IsEIP155() {
		return 0, fmt.Errorf("caip2: %q is not an eip155 identifier", id)
	}
	return strconv.ParseUint(id.reference, 10, 64)
}

// MarshalText implements encoding.TextMarshaler so ID can be used directly
// as a map key or struct field in JSON and TOML documents.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func isAlnumHyphen(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
