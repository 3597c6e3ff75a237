// Package data holds the connection-string type used to select and address
// the remote configuration store.
package data

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Supported store schemes.
const (
	ConsulScheme = "consul"
	NatsScheme   = "nats"
	NacosScheme  = "nacos"
	ValkeyScheme = "valkey"
	RedisScheme  = "redis"
	MemScheme    = "mem"
)

var ErrUnsupportedScheme = errors.New("unsupported store scheme")

// A DSN for conveniently handling a URI connection string such as
// "consul://127.0.0.1:8500?dc=dc1" or "nacos://10.0.0.5:8848/nacos".
type DSN string

func (d DSN) Scheme() string {
	u, err := d.ToURI()
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (d DSN) IsConsul() bool {
	return d.Scheme() == ConsulScheme
}

func (d DSN) IsNats() bool {
	return d.Scheme() == NatsScheme
}

func (d DSN) IsNacos() bool {
	return d.Scheme() == NacosScheme
}

func (d DSN) IsValkey() bool {
	return d.Scheme() == ValkeyScheme
}

func (d DSN) IsRedis() bool {
	return d.Scheme() == RedisScheme
}

func (d DSN) IsMem() bool {
	return d.Scheme() == MemScheme
}

// IsIndexed reports whether the store exposes version indexes and is kept
// fresh by long polling.
func (d DSN) IsIndexed() bool {
	return d.IsConsul() || d.IsNats() || d.IsMem()
}

// IsPush reports whether the store pushes changes to registered listeners.
func (d DSN) IsPush() bool {
	return d.IsNacos() || d.IsValkey() || d.IsRedis()
}

// Validate checks that the DSN parses and names a supported scheme.
func (d DSN) Validate() error {
	if _, err := d.ToURI(); err != nil {
		return err
	}
	if !d.IsIndexed() && !d.IsPush() {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, d.Scheme())
	}
	return nil
}

func (d DSN) ToURI() (*url.URL, error) {
	return url.Parse(string(d))
}

// Host returns the host without port.
func (d DSN) Host() string {
	u, err := d.ToURI()
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Port returns the port, or fallback when none is given.
func (d DSN) Port(fallback uint64) uint64 {
	u, err := d.ToURI()
	if err != nil || u.Port() == "" {
		return fallback
	}
	port, err := strconv.ParseUint(u.Port(), 10, 16)
	if err != nil {
		return fallback
	}
	return port
}

// HostPort returns "host:port" using fallback for a missing port.
func (d DSN) HostPort(fallback uint64) string {
	return net.JoinHostPort(d.Host(), strconv.FormatUint(d.Port(fallback), 10))
}

// Path returns the URI path without its leading slash.
func (d DSN) Path() string {
	u, err := d.ToURI()
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (d DSN) GetQuery(key string) string {
	nuURI, err := d.ToURI()
	if err != nil {
		return ""
	}

	return nuURI.Query().Get(key)
}

func (d DSN) ExtendQuery(key, value string) DSN {
	nuURI, err := d.ToURI()
	if err != nil {
		return d
	}

	q := nuURI.Query()
	q.Set(key, value)

	nuURI.RawQuery = q.Encode()

	return DSN(nuURI.String())
}

func (d DSN) RemoveQuery(key ...string) DSN {
	nuURI, err := d.ToURI()
	if err != nil {
		return d
	}

	q := nuURI.Query()

	for _, k := range key {
		q.Del(k)
	}

	nuURI.RawQuery = q.Encode()

	return DSN(nuURI.String())
}

// WithScheme swaps the scheme, e.g. to hand a "valkey://" DSN to a client
// that only understands "redis://".
func (d DSN) WithScheme(scheme string) (DSN, error) {
	nuURI, err := d.ToURI()
	if err != nil {
		return "", err
	}

	nuURI.Scheme = scheme
	return DSN(nuURI.String()), nil
}

// WithUser sets the credentials carried in the DSN.
func (d DSN) WithUser(user, password string) (DSN, error) {
	nuURI, err := d.ToURI()
	if err != nil {
		return "", err
	}

	if password == "" {
		nuURI.User = url.User(user)
	} else {
		nuURI.User = url.UserPassword(user, password)
	}
	return DSN(nuURI.String()), nil
}

func (d DSN) User() (string, string) {
	nuURI, err := d.ToURI()
	if err != nil || nuURI.User == nil {
		return "", ""
	}
	password, _ := nuURI.User.Password()
	return nuURI.User.Username(), password
}

func (d DSN) String() string {
	return string(d)
}
