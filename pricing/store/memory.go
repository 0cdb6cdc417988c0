// Package store provides in-memory implementations of the pricing contracts.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/permit-engine/calendar"
	"github.com/warp/permit-engine/pricing"
)

// =============================================================================
// MEMORY STORE - In-memory catalog and order items (for testing/previews)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	products map[pricing.Zone][]pricing.Product
	items    map[pricing.PermitID][]pricing.OrderItem
}

var (
	_ pricing.ProductCatalog  = (*Memory)(nil)
	_ pricing.OrderItemSource = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		products: make(map[pricing.Zone][]pricing.Product),
		items:    make(map[pricing.PermitID][]pricing.OrderItem),
	}
}

// AddProducts inserts products keeping each zone ordered by start date.
// Overlaps are not rejected here; the engine reports them when it prices.
func (m *Memory) AddProducts(products ...pricing.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range products {
		zoneProducts := m.products[p.Zone]

		i := sort.Search(len(zoneProducts), func(i int) bool {
			return zoneProducts[i].StartDate.After(p.StartDate)
		})
		zoneProducts = append(zoneProducts, pricing.Product{})
		copy(zoneProducts[i+1:], zoneProducts[i:])
		zoneProducts[i] = p
		m.products[p.Zone] = zoneProducts
	}
}

func (m *Memory) ProductsForDateRange(_ context.Context, zone pricing.Zone, start, end calendar.Date) ([]pricing.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rng := calendar.Period{Start: start, End: end}
	var result []pricing.Product
	for _, p := range m.products[zone] {
		if p.Period().Overlaps(rng) {
			result = append(result, p)
		}
	}
	return result, nil
}

// AddOrderItems records invoiced items.
func (m *Memory) AddOrderItems(items ...pricing.OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		m.items[item.PermitID] = append(m.items[item.PermitID], item)
	}
}

func (m *Memory) OrderItemsForPermit(_ context.Context, permitID pricing.PermitID) ([]pricing.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]pricing.OrderItem, len(m.items[permitID]))
	copy(result, m.items[permitID])
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartDate.Before(result[j].StartDate)
	})
	return result, nil
}
