package enroll

import (
	"fmt"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/backend/pgdriver"
)

// DefaultTable is the inline reference table created by the initial migration.
const DefaultTable = "fingerprints"

// Target is where enrollment writes for one backend.
type Target struct {
	Table string
	// Objects is set when the table holds object storage keys.
	Objects bool
}

// TargetFor resolves the table and sample store of the named postgres backend.
func TargetFor(defs []backend.RawDefinition, name string) (Target, error) {
	for _, def := range defs {
		if def.Name != name {
			continue
		}
		if def.Driver != pgdriver.Name {
			return Target{}, fmt.Errorf("backend %q uses driver %q, enrollment needs %q", name, def.Driver, pgdriver.Name)
		}
		table := def.Params["table"]
		if table == "" {
			return Target{}, fmt.Errorf("backend %q has no table param", name)
		}
		store := def.Params["sample_store"]
		switch store {
		case "", pgdriver.StoreInline:
			return Target{Table: table}, nil
		case pgdriver.StoreObject:
			return Target{Table: table, Objects: true}, nil
		default:
			return Target{}, fmt.Errorf("backend %q has unknown sample_store %q", name, store)
		}
	}
	return Target{}, fmt.Errorf("backend %q is not defined", name)
}
