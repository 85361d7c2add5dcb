package sync

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/matheus3301/chatsync/internal/model"
)

// DefaultProcessedIDs bounds the processed message id set.
const DefaultProcessedIDs = 1024

// processedIDs remembers recently applied message.send ids. The least recently
// seen id is evicted first.
type processedIDs struct {
	cache *lru.Cache[model.ID, struct{}]
}

func newProcessedIDs(size int) (*processedIDs, error) {
	if size <= 0 {
		size = DefaultProcessedIDs
	}
	c, err := lru.New[model.ID, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &processedIDs{cache: c}, nil
}

// seen reports whether id was already processed and records it either way.
func (p *processedIDs) seen(id model.ID) bool {
	if _, ok := p.cache.Get(id); ok {
		return true
	}
	p.cache.Add(id, struct{}{})
	return false
}

func (p *processedIDs) reset() {
	p.cache.Purge()
}
