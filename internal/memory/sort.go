package memory

import (
	"sort"

	"github.com/pitabwire/entitystore/model"
)

// Sort orders items in place by keys. The sort is stable, keys apply in
// declaration order and records missing a key's field sort after the rest,
// whatever the direction.
func Sort(items []model.Entity, keys []model.SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j], keys)
	})
}

func less(a, b model.Entity, keys []model.SortKey) bool {
	for _, k := range keys {
		av, aok := a[k.Field]
		bv, bok := b[k.Field]
		aok = aok && av != nil
		bok = bok && bv != nil

		switch {
		case !aok && !bok:
			continue
		case !aok:
			return false
		case !bok:
			return true
		}

		n, ok := compare(av, bv)
		if !ok {
			n = cmp3(text(av) < text(bv), text(av) > text(bv))
		}
		if n == 0 {
			continue
		}
		if k.Desc {
			return n > 0
		}
		return n < 0
	}
	return false
}
