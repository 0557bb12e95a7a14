package basket

import (
	"encoding/json"
	"fmt"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/storage"
)

// snapshotValues returns what a commit writes for b: the snapshot itself,
// selectedProducts with the selected variant ids as a JSON array and
// basketTotal with the selected total to two decimals. They go out in the
// same transaction so a reader never sees a total from another version.
func snapshotValues(b *domain.Basket) (map[string]string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal basket: %w", err)
	}
	ids, err := json.Marshal(b.SelectedIDs())
	if err != nil {
		return nil, fmt.Errorf("marshal selected ids: %w", err)
	}
	return map[string]string{
		storage.KeyBasket:           string(data),
		storage.KeySelectedProducts: string(ids),
		storage.KeyBasketTotal:      b.TotalSelected().StringFixed(2),
	}, nil
}
