package apiclient

import (
	"errors"

	"github.com/playforge/arcadia/pkg/api/handlers"
	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/syncer"
	"github.com/playforge/arcadia/pkg/txn"
)

// Health reports the liveness check payload.
func (c *Client) Health() (map[string]string, error) {
	var out map[string]string
	if err := c.get("/v1/healthz", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ready reports the readiness check payload, one entry per backing store.
func (c *Client) Ready() (map[string]string, error) {
	var out map[string]string
	err := c.get("/v1/healthz/ready", &out)
	return out, err
}

// CacheStats fetches the cache snapshot.
func (c *Client) CacheStats() (cache.Stats, error) {
	var out cache.Stats
	err := c.get("/v1/stats/cache", &out)
	return out, err
}

// LockStats fetches the lock service snapshot.
func (c *Client) LockStats() (lock.Stats, error) {
	var out lock.Stats
	err := c.get("/v1/stats/lock", &out)
	return out, err
}

// SyncStats fetches the sync engine snapshot.
func (c *Client) SyncStats() (syncer.Stats, error) {
	var out syncer.Stats
	err := c.get("/v1/stats/sync", &out)
	return out, err
}

// TxnStats fetches the transaction manager snapshot.
func (c *Client) TxnStats() (txn.Stats, error) {
	var out txn.Stats
	err := c.get("/v1/stats/txn", &out)
	return out, err
}

// SessionStats fetches the session registry snapshot.
func (c *Client) SessionStats() (handlers.SessionStats, error) {
	var out handlers.SessionStats
	err := c.get("/v1/stats/sessions", &out)
	return out, err
}

// RouterStats fetches the broadcast router snapshot.
func (c *Client) RouterStats() (router.Stats, error) {
	var out router.Stats
	err := c.get("/v1/stats/router", &out)
	return out, err
}

// StatusReport aggregates every stats endpoint for the CLI status view.
// Subsystems the server does not expose are left nil.
type StatusReport struct {
	Cache    *cache.Stats
	Lock     *lock.Stats
	Sync     *syncer.Stats
	Txn      *txn.Stats
	Sessions *handlers.SessionStats
	Router   *router.Stats
}

// Status fetches all stat snapshots, tolerating unconfigured subsystems.
func (c *Client) Status() (*StatusReport, error) {
	report := &StatusReport{}

	collect := func(fetch func() error) error {
		err := fetch()
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil
		}
		return err
	}

	if err := collect(func() error {
		st, err := c.CacheStats()
		if err == nil {
			report.Cache = &st
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := collect(func() error {
		st, err := c.LockStats()
		if err == nil {
			report.Lock = &st
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := collect(func() error {
		st, err := c.SyncStats()
		if err == nil {
			report.Sync = &st
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := collect(func() error {
		st, err := c.TxnStats()
		if err == nil {
			report.Txn = &st
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := collect(func() error {
		st, err := c.SessionStats()
		if err == nil {
			report.Sessions = &st
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := collect(func() error {
		st, err := c.RouterStats()
		if err == nil {
			report.Router = &st
		}
		return err
	}); err != nil {
		return nil, err
	}

	return report, nil
}
