// Package generation defines the identity and naming scheme of crawl
// generations. A generation is a self-contained snapshot of crawl output: one
// relational table plus one object-store key prefix, both derived from the
// generation's (role, id) pair by a fixed convention. Because the role is
// encoded entirely in the name, the set of existing table names and object
// prefixes is the authoritative record of system state: there is no separate
// state store to fall out of sync.
package generation

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"go.strata.dev/core/fault"
)

// Role is the lifecycle role of a generation.
type Role int

const (
	// Candidate is a newly produced generation awaiting comparison and
	// promotion.
	Candidate Role = iota
	// Active is the generation currently treated as canonical.
	Active
	// Archived is a previously active generation, retained until pruned.
	Archived
	// Temporary is the transient slot held by the outgoing active generation
	// during the three-way promotion rotation. A temporary name observed at
	// rest means a rotation was interrupted and must be resumed.
	Temporary
)

var roleNames = [...]string{"candidate", "active", "archived", "temporary"}

func (r Role) String() string {
	if r < Candidate || r > Temporary {
		return "invalid"
	}
	return roleNames[r]
}

// ParseRole maps a role name back to its Role.
func ParseRole(s string) (Role, error) {
	for i, n := range roleNames {
		if n == s {
			return Role(i), nil
		}
	}
	return 0, fault.Errorf(fault.Fatal, "unrecognized generation role %q", s)
}

// ID is a sortable, fixed-width identifier derived from the UTC timestamp at
// which a crawl run started. Lexicographic order of IDs is chronological
// order, which retention relies on.
type ID string

// idFormat is the time layout of an ID: 14 digits, second resolution.
const idFormat = "20060102150405"

var idRegexp = regexp.MustCompile(`^\d{14}$`)

// NewID derives an ID from |t|, which is truncated to UTC seconds.
func NewID(t time.Time) ID { return ID(t.UTC().Format(idFormat)) }

// Validate returns an error if the ID is not a well formed timestamp string.
func (id ID) Validate() error {
	if !idRegexp.MatchString(string(id)) {
		return fault.Errorf(fault.Fatal, "malformed generation id %q", id)
	} else if _, err := time.Parse(idFormat, string(id)); err != nil {
		return fault.Errorf(fault.Fatal, "generation id %q is not a valid timestamp", id)
	}
	return nil
}

// Time returns the timestamp the ID encodes.
func (id ID) Time() (time.Time, error) {
	var t, err = time.Parse(idFormat, string(id))
	if err != nil {
		return time.Time{}, fault.Errorf(fault.Fatal, "generation id %q is not a valid timestamp", id)
	}
	return t, nil
}

// Generation names one snapshot of crawl output by its role and id.
type Generation struct {
	Role Role
	ID   ID
}

// Name is the backing table name of the generation, `<role>_<id>`.
func (g Generation) Name() string { return g.Role.String() + "_" + string(g.ID) }

// TableName is an alias of Name: generations use identical naming for the
// relational and object sides.
func (g Generation) TableName() string { return g.Name() }

// Prefix is the object-key prefix of the generation, `<role>_<id>/`.
func (g Generation) Prefix() string { return g.Name() + "/" }

// WithRole returns the generation renamed into |role|.
func (g Generation) WithRole(role Role) Generation {
	return Generation{Role: role, ID: g.ID}
}

// Validate returns an error if the generation's role or id is malformed.
func (g Generation) Validate() error {
	if g.Role < Candidate || g.Role > Temporary {
		return fault.Errorf(fault.Fatal, "invalid generation role %d", g.Role)
	}
	return g.ID.Validate()
}

// Parse maps a table name or object-key prefix back to its Generation.
// A trailing slash (as carried by prefixes) is accepted and ignored.
// Names that do not follow the generation convention fail with NotFound,
// allowing listings to skip unrelated tables and prefixes.
func Parse(name string) (Generation, error) {
	name = strings.TrimSuffix(name, "/")

	var i = strings.LastIndexByte(name, '_')
	if i < 0 {
		return Generation{}, fault.Errorf(fault.NotFound, "%q is not a generation name", name)
	}
	var role, err = ParseRole(name[:i])
	if err != nil {
		return Generation{}, fault.Errorf(fault.NotFound, "%q is not a generation name", name)
	}
	var id = ID(name[i+1:])
	if err = id.Validate(); err != nil {
		return Generation{}, fault.Errorf(fault.NotFound, "%q is not a generation name", name)
	}
	return Generation{Role: role, ID: id}, nil
}

// Set is a classified collection of generations, usually built from a listing
// of table names or object-key prefixes.
type Set struct {
	Candidates  []Generation
	Actives     []Generation
	Archives    []Generation
	Temporaries []Generation
}

// Classify builds a Set from |names|, skipping names that do not follow the
// generation convention. Each role group is sorted by ascending ID.
func Classify(names []string) Set {
	var set Set
	for _, name := range names {
		var g, err = Parse(name)
		if err != nil {
			continue
		}
		switch g.Role {
		case Candidate:
			set.Candidates = append(set.Candidates, g)
		case Active:
			set.Actives = append(set.Actives, g)
		case Archived:
			set.Archives = append(set.Archives, g)
		case Temporary:
			set.Temporaries = append(set.Temporaries, g)
		}
	}
	for _, group := range [][]Generation{set.Candidates, set.Actives, set.Archives, set.Temporaries} {
		Sort(group)
	}
	return set
}

// Sort orders |gens| by ascending ID. Lexicographic order is chronological
// because IDs are fixed-width timestamps.
func Sort(gens []Generation) {
	sort.Slice(gens, func(i, j int) bool { return gens[i].ID < gens[j].ID })
}

// Active returns the single active generation, or ok=false if none exists.
// More than one active generation is an invariant violation and fails with
// Conflict: the caller must run a repair pass before proceeding.
func (s Set) Active() (g Generation, ok bool, err error) {
	switch len(s.Actives) {
	case 0:
		return Generation{}, false, nil
	case 1:
		return s.Actives[0], true, nil
	default:
		return Generation{}, false, fault.Errorf(fault.Conflict,
			"%d generations claim the active slot", len(s.Actives))
	}
}

// All returns every generation of the Set in a single slice.
func (s Set) All() []Generation {
	var all []Generation
	all = append(all, s.Candidates...)
	all = append(all, s.Actives...)
	all = append(all, s.Archives...)
	all = append(all, s.Temporaries...)
	return all
}
