// Package state persists OAuth records in a bbolt database so that
// grants and issued tokens survive a server restart. Authorization
// codes and other short-lived transients stay in memory only.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/reader-mcp/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// Grants embed raw upstream API tokens, so the file must not be
	// readable by other users.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	tokensBucket  = []byte("oauth_tokens")
	clientsBucket = []byte("oauth_clients")
	grantsBucket  = []byte("grants")
)

// State wraps the bbolt database.
type State struct {
	db *bolt.DB
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{tokensBucket, clientsBucket, grantsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state buckets: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the underlying database.
func (s *State) Close() error {
	return s.db.Close()
}

// put JSON-encodes v and stores it under key in bucket.
func (s *State) put(bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w", bucket, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// all decodes every value in bucket via decode, which receives the raw bytes.
func (s *State) all(bucket []byte, decode func([]byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			return decode(v)
		})
	})
}

// SaveToken persists an issued token. TokenHash must already be set;
// raw token values are never written to disk.
func (s *State) SaveToken(t models.OAuthToken) error {
	return s.put(tokensBucket, t.TokenHash, t)
}

// DeleteToken removes a persisted token by its hash.
func (s *State) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(tokenHash))
	})
}

// AllTokens returns every persisted token.
func (s *State) AllTokens() ([]models.OAuthToken, error) {
	var tokens []models.OAuthToken

	err := s.all(tokensBucket, func(v []byte) error {
		var t models.OAuthToken
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("decoding token entry: %w", err)
		}

		tokens = append(tokens, t)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return tokens, nil
}

// SaveClient persists a registered OAuth client.
func (s *State) SaveClient(c models.OAuthClient) error {
	return s.put(clientsBucket, c.ClientID, c)
}

// AllClients returns every registered client.
func (s *State) AllClients() ([]models.OAuthClient, error) {
	var clients []models.OAuthClient

	err := s.all(clientsBucket, func(v []byte) error {
		var c models.OAuthClient
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("decoding client entry: %w", err)
		}

		clients = append(clients, c)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return clients, nil
}

// SaveGrant persists a grant, including its bound upstream credential.
func (s *State) SaveGrant(g models.Grant) error {
	return s.put(grantsBucket, g.ID, g)
}

// AllGrants returns every persisted grant.
func (s *State) AllGrants() ([]models.Grant, error) {
	var grants []models.Grant

	err := s.all(grantsBucket, func(v []byte) error {
		var g models.Grant
		if err := json.Unmarshal(v, &g); err != nil {
			return fmt.Errorf("decoding grant entry: %w", err)
		}

		grants = append(grants, g)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return grants, nil
}
