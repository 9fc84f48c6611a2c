package replmap

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Address identifies a member of a group. Its contents are opaque to the map.
type Address string

// ViewID uniquely identifies a view. Seq increases every time the creator
// installs a new view.
type ViewID struct {
	Creator Address
	Seq     uint64
}

func (id ViewID) String() string {
	return fmt.Sprintf("%s|%d", id.Creator, id.Seq)
}

// View is a membership view: the ordered list of members of a group as
// reported by the substrate. A view with subgroups is a merge view; it
// reports that the listed subgroups, which were previously split, have
// been reconciled into this view. Subgroups are ordered.
type View struct {
	ID        ViewID
	Members   []Address
	Subgroups []View
}

// IsMerge reports whether the view is a merge view.
func (v View) IsMerge() bool {
	return len(v.Subgroups) > 0
}

// Contains reports whether addr is a member of the view.
func (v View) Contains(addr Address) bool {
	return slices.Contains(v.Members, addr)
}

// Primary returns the subgroup considered canonical when resolving a merge.
// It is always the first subgroup; ok is false for views that are not merge views.
func (v View) Primary() (View, bool) {
	if !v.IsMerge() {
		return View{}, false
	}
	return v.Subgroups[0], true
}

func (v View) String() string {
	members := make([]string, len(v.Members))
	for i, member := range v.Members {
		members[i] = string(member)
	}
	s := fmt.Sprintf("[%s] (%d) [%s]", v.ID, len(v.Members), strings.Join(members, ", "))
	if !v.IsMerge() {
		return s
	}
	subgroups := make([]string, len(v.Subgroups))
	for i, subgroup := range v.Subgroups {
		subgroups[i] = subgroup.String()
	}
	return s + " subgroups: " + strings.Join(subgroups, ", ")
}
