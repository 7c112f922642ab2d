package promote

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.strata.dev/core/generation"
	"go.strata.dev/core/objstore"
)

// Info describes one generation as observed across both stores.
type Info struct {
	Generation generation.Generation
	HasTable   bool
	HasPrefix  bool
	// Objects and Bytes total the content under the generation's prefix.
	Objects int
	Bytes   int64
}

// List reports every generation known to either store, ordered by ID and
// then role. Generations present on only one side (mid-rotation, or after a
// partial destruction) are included with the corresponding flag cleared.
func (o *Orchestrator) List(ctx context.Context) ([]Info, error) {
	var set, err = o.classifyTables(ctx)
	if err != nil {
		return nil, err
	}
	prefixes, err := objstore.ListPrefixes(ctx, o.Objects, "")
	if err != nil {
		return nil, errors.WithMessage(err, "listing object prefixes")
	}

	var infos = make(map[string]*Info)
	for _, g := range set.All() {
		infos[g.Name()] = &Info{Generation: g, HasTable: true}
	}
	for _, prefix := range prefixes {
		var g, err = generation.Parse(prefix)
		if err != nil {
			continue
		}
		var info, ok = infos[g.Name()]
		if !ok {
			info = &Info{Generation: g}
			infos[g.Name()] = info
		}
		info.HasPrefix = true

		err = o.Objects.List(ctx, g.Prefix(), func(obj objstore.ObjectInfo) error {
			info.Objects++
			info.Bytes += obj.Size
			return nil
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "listing prefix %s", g.Prefix())
		}
	}

	var out = make([]Info, 0, len(infos))
	for _, info := range infos {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Generation.ID != out[j].Generation.ID {
			return out[i].Generation.ID < out[j].Generation.ID
		}
		return out[i].Generation.Role < out[j].Generation.Role
	})
	return out, nil
}
