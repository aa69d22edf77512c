// Package cache keeps materialized datasets alive between a persist and the
// matching unpersist, bounded by an LRU.
package cache

import (
	lru "github.com/hashicorp/golang-lru"

	"mlstages/internal/data"
	"mlstages/internal/logging"
)

const DefaultSize = 16

type Manager struct {
	entries *lru.Cache
}

func NewManager(size int) (*Manager, error) {
	log := logging.For("cache")
	entries, err := lru.NewWithEvict(size, func(key, _ interface{}) {
		log.Debug().Str("dataset", key.(string)).Msg("evicted persisted dataset")
	})
	if err != nil {
		return nil, err
	}
	return &Manager{entries: entries}, nil
}

var defaultManager *Manager

func init() {
	m, err := NewManager(DefaultSize)
	if err != nil {
		panic(err)
	}
	defaultManager = m
}

// Default is the process-wide manager used by stages that cache intermediate data.
func Default() *Manager {
	return defaultManager
}

// Persist registers the dataset and returns it for chaining.
func (m *Manager) Persist(ds *data.Dataset) *data.Dataset {
	m.entries.Add(ds.ID(), ds)
	logging.For("cache").Debug().Str("dataset", ds.ID()).Int("rows", ds.NumRows()).Msg("persisted dataset")
	return ds
}

func (m *Manager) Get(id string) (*data.Dataset, bool) {
	v, ok := m.entries.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*data.Dataset), true
}

func (m *Manager) IsPersisted(id string) bool {
	return m.entries.Contains(id)
}

func (m *Manager) Unpersist(ds *data.Dataset) {
	m.entries.Remove(ds.ID())
	logging.For("cache").Debug().Str("dataset", ds.ID()).Msg("unpersisted dataset")
}

func (m *Manager) Len() int {
	return m.entries.Len()
}
