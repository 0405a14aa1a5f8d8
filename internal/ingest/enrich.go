package ingest

import (
	"context"

	"github.com/rs/zerolog"
)

// ContributorIDField is the key under which the resolved internal contributor
// id is attached to a record. A record whose actor could not be resolved
// carries an untyped nil here, never a NaN or a missing key, so downstream
// code has a single null representation to check.
const ContributorIDField = "cntrb_id"

// ContributorResolver looks up a contributor by login and creates one on
// first sight. Owned by the identity service; this package only consumes it.
type ContributorResolver interface {
	ResolveOrCreate(ctx context.Context, login, nodeID string) (int64, error)
}

// EnrichContributorID resolves the actor nested at actorPath ("user",
// "actor", or "" for a top-level login) on every record and attaches the
// internal contributor id. A null or malformed actor does not fail the
// batch: the record passes through with a nil contributor id and persistence
// decides whether to drop or null-fill it.
func EnrichContributorID(ctx context.Context, records []Record, actorPath string, resolver ContributorResolver, logger zerolog.Logger) []Record {
	loginPath := "login"
	nodePath := "node_id"
	if actorPath != "" {
		loginPath = actorPath + ".login"
		nodePath = actorPath + ".node_id"
	}

	for _, rec := range records {
		login, ok := rec.Str(loginPath)
		if !ok || login == "" {
			rec[ContributorIDField] = nil
			continue
		}
		nodeID, _ := rec.Str(nodePath)

		id, err := resolver.ResolveOrCreate(ctx, login, nodeID)
		if err != nil {
			logger.Warn().Str("login", login).Err(err).
				Msg("Contributor resolution failed, passing record through with null id")
			rec[ContributorIDField] = nil
			continue
		}
		rec[ContributorIDField] = id
	}
	return records
}

// EnrichPrimaryKeys joins records against already-persisted parent rows on
// record.Path(sourceField) == parent[parentField] and attaches the parent's
// idColumn value to each matched record. The join is inner: records without
// a matching parent are dropped from the enriched output rather than kept
// with a dangling reference.
func EnrichPrimaryKeys(records []Record, parents []map[string]any, sourceField, parentField, idColumn string) []Record {
	index := make(map[string]any, len(parents))
	for _, parent := range parents {
		index[canonical(parent[parentField])] = parent[idColumn]
	}

	enriched := make([]Record, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Path(sourceField)
		if !ok {
			continue
		}
		id, matched := index[canonical(v)]
		if !matched {
			continue
		}
		rec[idColumn] = id
		enriched = append(enriched, rec)
	}
	return enriched
}
