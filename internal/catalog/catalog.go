package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gridsim/internal/config"
	"gridsim/internal/logger"
	"gridsim/internal/scenario"
)

// ErrScenarioNotFound is returned when no scenario has the requested ID.
var ErrScenarioNotFound = errors.New("scenario not found")

// Catalog serves scenario definitions. Steps are fetched once, before a run starts.
type Catalog interface {
	Scenario(ctx context.Context, id string) (scenario.Scenario, error)
	GetSteps(ctx context.Context, id string) ([]scenario.Step, error)
	List(ctx context.Context) ([]scenario.Summary, error)
}

// Memory is an in-process catalog.
type Memory struct {
	mu        sync.RWMutex
	scenarios map[string]scenario.Scenario
}

// NewMemory creates a catalog holding the given scenarios.
func NewMemory(scenarios ...scenario.Scenario) (*Memory, error) {
	m := &Memory{scenarios: make(map[string]scenario.Scenario, len(scenarios))}
	for _, sc := range scenarios {
		if err := m.Add(sc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FromPresets creates a catalog seeded with the built-in scenarios.
func FromPresets() *Memory {
	m := &Memory{scenarios: make(map[string]scenario.Scenario)}
	for _, name := range scenario.ListPresets() {
		sc, _ := scenario.GetPreset(name)
		m.scenarios[sc.ID] = sc
	}
	return m
}

// Add validates and stores a scenario, replacing any scenario with the same ID.
func (m *Memory) Add(sc scenario.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	sc.Steps = sc.Ordered()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[sc.ID] = sc
	return nil
}

// LoadDir adds every scenario file found directly under dir.
// It returns the number of scenarios loaded.
func (m *Memory) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read scenario dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !config.IsScenarioFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		sc, err := LoadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", name, err)
		}
		if err := m.Add(sc); err != nil {
			return loaded, fmt.Errorf("%s: %w", name, err)
		}
		logger.Debug("", "Loaded scenario %s from %s", sc.ID, path)
		loaded++
	}
	return loaded, nil
}

// LoadFile reads and converts a single scenario file.
func LoadFile(path string) (scenario.Scenario, error) {
	fc, err := config.LoadFile(path)
	if err != nil {
		return scenario.Scenario{}, err
	}
	if err := fc.Validate(); err != nil {
		return scenario.Scenario{}, err
	}
	return fc.ToScenario()
}

// Scenario returns the scenario with the given ID.
func (m *Memory) Scenario(_ context.Context, id string) (scenario.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sc, ok := m.scenarios[id]
	if !ok {
		return scenario.Scenario{}, fmt.Errorf("%w: %s", ErrScenarioNotFound, id)
	}
	sc.Steps = sc.Ordered()
	return sc, nil
}

// GetSteps returns a copy of the scenario's steps in execution order.
func (m *Memory) GetSteps(ctx context.Context, id string) ([]scenario.Step, error) {
	sc, err := m.Scenario(ctx, id)
	if err != nil {
		return nil, err
	}
	return sc.Steps, nil
}

// List returns summaries sorted by ID.
func (m *Memory) List(_ context.Context) ([]scenario.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]scenario.Summary, 0, len(m.scenarios))
	for _, sc := range m.scenarios {
		out = append(out, sc.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
