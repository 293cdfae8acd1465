package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/scene"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PGStore keeps snapshots as JSONB rows, one per name.
type PGStore struct {
	db  *DB
	log *zap.Logger
}

func NewPGStore(db *DB, log *zap.Logger) *PGStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PGStore{db: db, log: log}
}

func (s *PGStore) Save(ctx context.Context, name string, snap *scene.Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	doc, err := encodeJSON(snap)
	if err != nil {
		return eris.Wrapf(err, "encode snapshot %s", name)
	}
	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO snapshots (name, version, entities, document, saved_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (name) DO UPDATE
		 SET version = EXCLUDED.version, entities = EXCLUDED.entities,
		     document = EXCLUDED.document, saved_at = EXCLUDED.saved_at`,
		name, snap.Version, len(snap.Entities), string(doc),
	)
	if err != nil {
		return eris.Wrapf(ecs.ErrBackendFailure, "save snapshot %s: %v", name, err)
	}
	s.log.Debug("snapshot saved", zap.String("name", name), zap.Int("bytes", len(doc)))
	return nil
}

// Load decodes numbers as json.Number so integer fields keep full precision.
func (s *PGStore) Load(ctx context.Context, name string) (*scene.Snapshot, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var doc []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT document FROM snapshots WHERE name = $1`, name,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ecs.ErrNotFound, "snapshot %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(ecs.ErrBackendFailure, "load snapshot %s: %v", name, err)
	}

	snap, err := decodeJSON(doc)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot %s", name)
	}
	return snap, nil
}

// JSON has no NaN or infinity. Non-finite floats are written as these
// strings and component fields holding them are read back as float64.
// System states are only encoded: their strings are returned as strings.
const (
	jsonNaN    = "NaN"
	jsonPosInf = "+Inf"
	jsonNegInf = "-Inf"
)

func encodeJSON(snap *scene.Snapshot) ([]byte, error) {
	out := *snap
	out.Entities = make([]scene.EntitySnapshot, len(snap.Entities))
	for i, e := range snap.Entities {
		out.Entities[i] = scene.EntitySnapshot{Path: e.Path}
		if e.Components == nil {
			continue
		}
		out.Entities[i].Components = make(map[string]ecs.Record, len(e.Components))
		for name, rec := range e.Components {
			out.Entities[i].Components[name] = ecs.Record(finiteMap(rec))
		}
	}
	if snap.Systems != nil {
		out.Systems = make(map[string]ecs.State, len(snap.Systems))
		for name, state := range snap.Systems {
			out.Systems[name] = ecs.State(finiteMap(state))
		}
	}
	return json.Marshal(&out)
}

func finiteMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = finite(v)
	}
	return out
}

func finite(v any) any {
	switch v := v.(type) {
	case float32:
		return finiteFloat(float64(v), v)
	case float64:
		return finiteFloat(v, v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = finite(e)
		}
		return out
	case map[string]any:
		return finiteMap(v)
	case ecs.State:
		return finiteMap(v)
	}
	return v
}

func finiteFloat(f float64, v any) any {
	switch {
	case math.IsNaN(f):
		return jsonNaN
	case math.IsInf(f, 1):
		return jsonPosInf
	case math.IsInf(f, -1):
		return jsonNegInf
	}
	return v
}

func decodeJSON(doc []byte) (*scene.Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var snap scene.Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, eris.Wrapf(ecs.ErrConfiguration, "decode snapshot: %v", err)
	}
	for _, e := range snap.Entities {
		for _, rec := range e.Components {
			for field, v := range rec {
				switch v {
				case jsonNaN:
					rec[field] = math.NaN()
				case jsonPosInf:
					rec[field] = math.Inf(1)
				case jsonNegInf:
					rec[field] = math.Inf(-1)
				}
			}
		}
	}
	return &snap, nil
}

func (s *PGStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT name FROM snapshots ORDER BY name`)
	if err != nil {
		return nil, eris.Wrapf(ecs.ErrBackendFailure, "list snapshots: %v", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(ecs.ErrBackendFailure, "list snapshots: %v", err)
	}
	return names, nil
}

// Delete removes a snapshot; deleting an unknown name is not an error.
func (s *PGStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM snapshots WHERE name = $1`, name); err != nil {
		return eris.Wrapf(ecs.ErrBackendFailure, "delete snapshot %s: %v", name, err)
	}
	return nil
}
