// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package credentials resolves authentication material for a registry
// host, either from an in-memory provider or from a docker-style
// config.json file. It reads config files once at construction time;
// later edits to those files are not observed, matching the immutable
// store the auth negotiator expects to share across request goroutines.
package credentials

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
)

// Kind discriminates the Credential variant in play.
type Kind int

const (
	Anonymous Kind = iota
	UsernamePassword
	BearerToken
)

// Credential is a tagged variant: exactly one of (Username,Password) or
// Token is meaningful, selected by Kind.
type Credential struct {
	Kind     Kind
	Username string
	Password string
	Token    string
}

// IsAnonymous reports whether c carries no usable credential.
func (c Credential) IsAnonymous() bool { return c.Kind == Anonymous }

// Provider resolves a Credential for a registry host. Host is the
// registry's host[:port], exactly as it appears in a Reference.
type Provider interface {
	Resolve(host string) Credential
}

// Static returns the same username/password for every host.
type Static struct {
	Username string
	Password string
}

// Resolve implements Provider.
func (s Static) Resolve(string) Credential {
	if s.Username == "" && s.Password == "" {
		return Credential{Kind: Anonymous}
	}
	return Credential{Kind: UsernamePassword, Username: s.Username, Password: s.Password}
}

// dockerConfig mirrors the subset of docker's config.json this module
// understands; unknown top-level keys are ignored by encoding/json's
// default unmarshal behavior.
type dockerConfig struct {
	Auths map[string]dockerAuthEntry `json:"auths"`
}

type dockerAuthEntry struct {
	Auth          string `json:"auth"`
	IdentityToken string `json:"identitytoken"`
}

// FileStore resolves credentials from one or more docker-style
// config.json files, read once at construction. Lookup is an exact host
// match; there is no wildcard or suffix matching.
type FileStore struct {
	entries map[string]dockerAuthEntry
}

// NewFileStore reads and merges the config.json at each of paths. Later
// paths override earlier ones for the same host. A missing file is
// skipped, not an error; a malformed one is reported immediately.
func NewFileStore(paths ...string) (*FileStore, error) {
	fs := &FileStore{entries: make(map[string]dockerAuthEntry)}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading credential file %s: %w", p, err)
		}
		var cfg dockerConfig
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parsing credential file %s: %w", p, err)
		}
		for host, entry := range cfg.Auths {
			fs.entries[host] = entry
		}
	}
	return fs, nil
}

// DefaultConfigPath returns $DOCKER_CONFIG/config.json if DOCKER_CONFIG is
// set, otherwise ~/.docker/config.json.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("DOCKER_CONFIG"); dir != "" {
		return filepath.Join(dir, "config.json"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".docker", "config.json"), nil
}

// NewDefaultFileStore builds a FileStore over DefaultConfigPath().
func NewDefaultFileStore() (*FileStore, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return NewFileStore(path)
}

// Resolve implements Provider. A BearerToken is returned when the entry
// carries an identitytoken; otherwise auth is base64-decoded into a
// UsernamePassword. A host with no entry resolves to Anonymous.
func (fs *FileStore) Resolve(host string) Credential {
	entry, ok := fs.entries[host]
	if !ok {
		return Credential{Kind: Anonymous}
	}
	if entry.IdentityToken != "" {
		return Credential{Kind: BearerToken, Token: entry.IdentityToken}
	}
	if entry.Auth == "" {
		return Credential{Kind: Anonymous}
	}
	decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
	if err != nil {
		return Credential{Kind: Anonymous}
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return Credential{Kind: Anonymous}
	}
	return Credential{Kind: UsernamePassword, Username: user, Password: pass}
}

// Chain tries each Provider in order and returns the first non-anonymous
// result, falling back to Anonymous if none match.
type Chain struct {
	Providers []Provider
}

// Resolve implements Provider.
func (c Chain) Resolve(host string) Credential {
	for _, p := range c.Providers {
		if cred := p.Resolve(host); !cred.IsAnonymous() {
			return cred
		}
	}
	return Credential{Kind: Anonymous}
}
