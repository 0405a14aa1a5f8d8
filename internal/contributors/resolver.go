// Package contributors resolves remote actor references (login + node id) to
// internal contributor ids, creating a contributor row on first sight.
package contributors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/prsync/internal/ingest"
	"github.com/prsync/internal/retry"
	"github.com/prsync/internal/store"
)

// Resolver implements ingest.ContributorResolver against the contributors
// table. Resolutions are cached for the duration of a run; the same login
// never costs more than one round trip.
type Resolver struct {
	db       store.DB
	prov     ingest.Provenance
	retryCfg retry.Config
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[string]int64
}

// NewResolver creates a contributor resolver.
func NewResolver(db store.DB, prov ingest.Provenance, logger zerolog.Logger) *Resolver {
	return &Resolver{
		db:       db,
		prov:     prov,
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
		cache:    make(map[string]int64),
	}
}

// ResolveOrCreate looks a contributor up by login and creates one with the
// available profile fields when no row exists yet. Safe under concurrent
// workers: creation upserts on the login's unique constraint, so a race
// resolves to the same id on both sides.
func (r *Resolver) ResolveOrCreate(ctx context.Context, login, nodeID string) (int64, error) {
	if login == "" {
		return 0, fmt.Errorf("empty login")
	}

	r.mu.Lock()
	if id, ok := r.cache[login]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	// Transient database failures are retried with backoff; anything else
	// (bad SQL, constraint trouble) fails on the first attempt.
	var id int64
	var permErr error
	result := retry.WithBackoff(ctx, r.retryCfg, func() error {
		permErr = nil
		err := r.db.QueryRow(ctx,
			"SELECT cntrb_id FROM contributors WHERE cntrb_login = $1", login,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			id, err = r.create(ctx, login, nodeID)
		}
		if err != nil && !retry.IsRetryableError(err) {
			permErr = err
			return nil
		}
		return err
	}, r.logger)

	if permErr != nil {
		return 0, fmt.Errorf("resolve contributor %q: %w", login, permErr)
	}
	if !result.Success {
		return 0, fmt.Errorf("resolve contributor %q: %w", login, result.LastError)
	}

	r.mu.Lock()
	r.cache[login] = id
	r.mu.Unlock()
	return id, nil
}

func (r *Resolver) create(ctx context.Context, login, nodeID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO contributors (
			cntrb_login, gh_node_id, cntrb_created_at,
			tool_source, tool_version, data_source
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cntrb_login) DO UPDATE SET gh_node_id = EXCLUDED.gh_node_id
		RETURNING cntrb_id
	`, login, nodeID, time.Now().UTC(), r.prov.ToolSource, r.prov.ToolVersion, r.prov.DataSource).Scan(&id)
	if err != nil {
		return 0, err
	}

	r.logger.Debug().Str("login", login).Int64("cntrb_id", id).Msg("Created contributor")
	return id, nil
}
