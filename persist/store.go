// Package persist saves and loads scene snapshots.
package persist

import (
	"context"
	"regexp"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/scene"
	"github.com/rotisserie/eris"
)

// Store keeps named snapshots. Load of an unknown name fails with
// ecs.ErrNotFound.
type Store interface {
	Save(ctx context.Context, name string, snap *scene.Snapshot) error
	Load(ctx context.Context, name string) (*scene.Snapshot, error)
	List(ctx context.Context) ([]string, error)
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func checkName(name string) error {
	if !namePattern.MatchString(name) {
		return eris.Wrapf(ecs.ErrConfiguration, "invalid snapshot name %q", name)
	}
	return nil
}
