package persist

import (
	"fmt"
	"sync"
)

// MigrateFunc converts state persisted at version into the shape expected by
// the current version.
type MigrateFunc func(persisted any, version int) (any, error)

// StepFunc migrates persisted state by one registered step.
type StepFunc func(persisted any) (any, error)

// MigrationErrorHandler is called when a migration step fails.
type MigrationErrorHandler func(from, to int, persisted any, err error)

type migration struct {
	to   int
	step StepFunc
}

// Migrator chains version-to-version migration steps.
type Migrator struct {
	steps        map[int]migration
	errorHandler MigrationErrorHandler
	mu           sync.RWMutex
}

// NewMigrator creates an empty migrator.
func NewMigrator() *Migrator {
	return &Migrator{
		steps: make(map[int]migration),
	}
}

// Register adds a step from one version to another. Each version has at most
// one outgoing step and steps may not form a cycle.
func (m *Migrator) Register(from, to int, step StepFunc) error {
	if from == to {
		return fmt.Errorf("persist: cannot migrate version %d to itself", from)
	}
	if step == nil {
		return fmt.Errorf("persist: migration step cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.steps[from]; exists {
		return fmt.Errorf("persist: migration from version %d already registered", from)
	}
	if m.reaches(to, from) {
		return fmt.Errorf("persist: migration %d -> %d would create a cycle", from, to)
	}

	m.steps[from] = migration{to: to, step: step}
	return nil
}

// reaches reports whether following steps from start arrives at target.
func (m *Migrator) reaches(start, target int) bool {
	visited := make(map[int]bool)
	for current := start; ; {
		if current == target {
			return true
		}
		if visited[current] {
			return false
		}
		visited[current] = true

		next, ok := m.steps[current]
		if !ok {
			return false
		}
		current = next.to
	}
}

// SetErrorHandler sets the handler invoked when a step fails.
func (m *Migrator) SetErrorHandler(handler MigrationErrorHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorHandler = handler
}

// Migrate applies steps starting at from until version to is reached.
func (m *Migrator) Migrate(persisted any, from, to int) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current := persisted
	version := from
	for version != to {
		next, ok := m.steps[version]
		if !ok {
			return persisted, fmt.Errorf("persist: no migration path from version %d to %d", from, to)
		}

		migrated, err := next.step(current)
		if err != nil {
			if m.errorHandler != nil {
				m.errorHandler(version, next.to, current, err)
			}
			return persisted, fmt.Errorf("persist: migration failed from version %d to %d: %w", version, next.to, err)
		}

		current = migrated
		version = next.to
	}
	return current, nil
}

// Func returns a MigrateFunc that migrates to version to.
func (m *Migrator) Func(to int) MigrateFunc {
	return func(persisted any, version int) (any, error) {
		return m.Migrate(persisted, version, to)
	}
}

// Clear removes all registered steps.
func (m *Migrator) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = make(map[int]migration)
}
