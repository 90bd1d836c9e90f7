package dispatch

import (
	"xdao.co/routeplane/model"
)

// routeTable is the routing table arena: a dense list of rows plus an index
// from selector to list position. Both are always updated together.
type routeTable struct {
	list  []model.Route
	index map[model.Selector]int
}

func newRouteTable(rows []model.Route) *routeTable {
	t := &routeTable{
		list:  rows,
		index: make(map[model.Selector]int, len(rows)),
	}
	for i, r := range rows {
		t.index[r.Entry.Selector] = i
	}
	return t
}

func (t *routeTable) get(sel model.Selector) (model.Route, bool) {
	i, ok := t.index[sel]
	if !ok {
		return model.Route{}, false
	}
	return t.list[i], true
}

func (t *routeTable) upsert(r model.Route) {
	if i, ok := t.index[r.Entry.Selector]; ok {
		t.list[i] = r
		return
	}
	t.index[r.Entry.Selector] = len(t.list)
	t.list = append(t.list, r)
}

// remove deletes sel by moving the last row into its slot.
func (t *routeTable) remove(sel model.Selector) bool {
	i, ok := t.index[sel]
	if !ok {
		return false
	}
	last := len(t.list) - 1
	if i != last {
		moved := t.list[last]
		t.list[i] = moved
		t.index[moved.Entry.Selector] = i
	}
	t.list[last] = model.Route{}
	t.list = t.list[:last]
	delete(t.index, sel)
	return true
}

func (t *routeTable) len() int { return len(t.list) }

// rows returns the list for persistence.
func (t *routeTable) rows() []model.Route { return t.list }
