// Package symbols holds the process-wide symbol table: the fixed set of
// tradeable assets the rest of the pipeline is allowed to touch.
package symbols

import "ratefeed/internal/config"

// Symbol is one admissible asset.
type Symbol struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Table is an immutable, process-wide view of the admissible symbols, plus
// the two derived lookups the rest of the pipeline needs: name->id and the
// membership set of ids.
type Table struct {
	ordered []Symbol
	byName  map[string]int
	byID    map[int]string
}

// New builds a Table from the configured symbol list. The input order is
// preserved for Symbols().
func New(cfgSymbols []config.Symbol) *Table {
	t := &Table{
		ordered: make([]Symbol, 0, len(cfgSymbols)),
		byName:  make(map[string]int, len(cfgSymbols)),
		byID:    make(map[int]string, len(cfgSymbols)),
	}
	for _, s := range cfgSymbols {
		sym := Symbol{ID: s.ID, Name: s.Name}
		t.ordered = append(t.ordered, sym)
		t.byName[sym.Name] = sym.ID
		t.byID[sym.ID] = sym.Name
	}
	return t
}

// Symbols returns the full ordered symbol table.
func (t *Table) Symbols() []Symbol {
	out := make([]Symbol, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// IDFor resolves a symbol name to its assetId. ok is false for unknown names.
func (t *Table) IDFor(name string) (id int, ok bool) {
	id, ok = t.byName[name]
	return
}

// NameFor resolves an assetId to its symbol name. ok is false for unknown ids.
func (t *Table) NameFor(id int) (name string, ok bool) {
	name, ok = t.byID[id]
	return
}

// Known reports whether id is in the admitted symbol set.
func (t *Table) Known(id int) bool {
	_, ok := t.byID[id]
	return ok
}
