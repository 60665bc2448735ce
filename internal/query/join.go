package query

import (
	"fmt"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

// Relation connects a parent node to stored children: parent[ParentKey] == child[ChildKey].
type Relation struct {
	ParentKey string
	ChildKey  string
}

// embeddedCollections are nested fields that are not stored types but can act as
// join parents.
var embeddedCollections = map[string]bool{
	"line_items": true,
	"variants":   true,
}

// relations is the join graph keyed by parent name, then child type.
var relations = map[string]map[models.DataType]Relation{
	"orders": {
		models.TypeFulfillments: {ParentKey: "id", ChildKey: "order_id"},
		models.TypeCustomers:    {ParentKey: "customer", ChildKey: "id"},
	},
	"fulfillments": {
		models.TypeOrders: {ParentKey: "order_id", ChildKey: "id"},
	},
	"line_items": {
		models.TypeProducts: {ParentKey: "product_id", ChildKey: "id"},
	},
	"customers": {
		models.TypeOrders: {ParentKey: "id", ChildKey: "customer"},
	},
	"variants": {
		models.TypeInventory: {ParentKey: "inventory_item_id", ChildKey: "id"},
	},
}

func init() {
	if err := validateRelations(relations); err != nil {
		panic(err)
	}
}

func validateRelations(graph map[string]map[models.DataType]Relation) error {
	for parent, children := range graph {
		if _, ok := models.ParseDataType(parent); !ok && !embeddedCollections[parent] {
			return fmt.Errorf("relation parent %q is neither a stored type nor an embedded collection", parent)
		}
		for child, rel := range children {
			if _, ok := models.ParseDataType(string(child)); !ok {
				return fmt.Errorf("relation %s -> %s: child is not a stored type", parent, child)
			}
			if rel.ParentKey == "" || rel.ChildKey == "" {
				return fmt.Errorf("relation %s -> %s: empty key", parent, child)
			}
		}
	}
	return nil
}

// LookupRelation returns the relation from parent to child, if one exists.
func LookupRelation(parent string, child models.DataType) (Relation, bool) {
	rel, ok := relations[parent][child]
	return rel, ok
}

// joinStep is one planned join: load Child and attach it at Path below each record.
type joinStep struct {
	Child    models.DataType
	Relation Relation
	Path     []string
}

// planJoins finds the segments that name stored types other than the stage's primary
// type and resolves each against the segment before it.
func planJoins(segs []Segment) ([]joinStep, error) {
	primary := segs[0].Name
	var steps []joinStep
	for i := 1; i < len(segs); i++ {
		child, ok := models.ParseDataType(segs[i].Name)
		if !ok || segs[i].Name == primary {
			continue
		}
		rel, ok := LookupRelation(segs[i-1].Name, child)
		if !ok {
			return nil, &Error{Kind: KindUnresolvableJoin, Token: segs[i].Name}
		}
		path := make([]string, 0, i-1)
		for _, s := range segs[1:i] {
			path = append(path, s.Name)
		}
		steps = append(steps, joinStep{Child: child, Relation: rel, Path: path})
	}
	return steps, nil
}

// attach returns copies of parents with children joined in at path. Records are
// copied along the path only, so cached inputs are never modified.
func attach(parents []models.Record, step joinStep, children []models.Record) []models.Record {
	byKey := make(map[string][]any)
	for _, c := range children {
		k := models.IDString(c[step.Relation.ChildKey])
		if k == "" {
			continue
		}
		byKey[k] = append(byKey[k], map[string]any(c))
	}

	out := make([]models.Record, len(parents))
	for i, p := range parents {
		joined := attachAt(map[string]any(p), step.Path, string(step.Child), step.Relation.ParentKey, byKey)
		m, _ := asMap(joined)
		out[i] = models.Record(m)
	}
	return out
}

func attachAt(node any, path []string, field, parentKey string, byKey map[string][]any) any {
	if list, ok := node.([]any); ok {
		cp := make([]any, len(list))
		for i, el := range list {
			cp[i] = attachAt(el, path, field, parentKey, byKey)
		}
		return cp
	}

	m, ok := asMap(node)
	if !ok {
		return node
	}
	cp := make(map[string]any, len(m)+1)
	for k, v := range m {
		cp[k] = v
	}

	if len(path) > 0 {
		if next, ok := cp[path[0]]; ok {
			cp[path[0]] = attachAt(next, path[1:], field, parentKey, byKey)
		}
		return cp
	}

	if embedsObjects(cp[field]) {
		return cp
	}
	found := byKey[models.IDString(cp[parentKey])]
	if found == nil {
		found = []any{}
	}
	cp[field] = found
	return cp
}

// embedsObjects reports whether v already holds objects rather than bare references.
func embedsObjects(v any) bool {
	switch x := v.(type) {
	case map[string]any, models.Record:
		return true
	case []any:
		for _, el := range x {
			if _, ok := asMap(el); ok {
				return true
			}
		}
	}
	return false
}
