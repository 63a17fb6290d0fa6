package datasource

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/apperrors"
)

var sourceTypeInterface = reflect.TypeOf((*SourceType)(nil)).Elem()

// Registry maps source type names to their implementations. It is built once
// at startup and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]SourceType
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		types:  make(map[string]SourceType),
		logger: logger.Named("registry"),
	}
}

// Register adds a source type under Describe().Type.
func (r *Registry) Register(st SourceType) error {
	if st == nil || (reflect.ValueOf(st).Kind() == reflect.Ptr && reflect.ValueOf(st).IsNil()) {
		return fmt.Errorf("%w: source type is nil", apperrors.ErrConfiguration)
	}
	name := strings.TrimSpace(st.Describe().Type)
	if name == "" {
		return fmt.Errorf("%w: source type has no name", apperrors.ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: source type %q already registered", apperrors.ErrConflict, name)
	}
	r.types[name] = st
	r.order = append(r.order, name)

	r.logger.Info("source type registered", zap.String("source_type", name))
	return nil
}

// RegisterCandidate registers candidate if it provides every capability of
// SourceType. Incomplete candidates are logged and skipped; the return value
// reports whether the candidate was accepted.
func (r *Registry) RegisterCandidate(name string, candidate any) bool {
	if candidate == nil {
		r.logger.Warn("skipping nil source type candidate", zap.String("candidate", name))
		return false
	}

	st, ok := candidate.(SourceType)
	if !ok {
		r.logger.Warn("skipping source type candidate missing capabilities",
			zap.String("candidate", name),
			zap.Strings("missing", MissingCapabilities(candidate)))
		return false
	}

	if err := r.Register(st); err != nil {
		r.logger.Warn("skipping source type candidate",
			zap.String("candidate", name),
			zap.Error(err))
		return false
	}
	return true
}

// Discover registers every candidate, in name order, skipping the ones that
// do not qualify. Returns the number accepted.
func (r *Registry) Discover(candidates map[string]any) int {
	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	accepted := 0
	for _, name := range names {
		if r.RegisterCandidate(name, candidates[name]) {
			accepted++
		}
	}
	return accepted
}

// Lookup returns the source type registered under name.
func (r *Registry) Lookup(name string) (SourceType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("source type %q: %w", name, apperrors.ErrNotFound)
	}
	return st, nil
}

// List returns registered source types in registration order.
func (r *Registry) List() []SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]SourceType, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// MissingCapabilities lists the SourceType methods candidate lacks or
// implements with the wrong signature.
func MissingCapabilities(candidate any) []string {
	t := reflect.TypeOf(candidate)
	var missing []string
	for i := 0; i < sourceTypeInterface.NumMethod(); i++ {
		want := sourceTypeInterface.Method(i)
		if t == nil {
			missing = append(missing, want.Name)
			continue
		}
		got, ok := t.MethodByName(want.Name)
		if !ok || !sameSignature(want.Type, got.Type) {
			missing = append(missing, want.Name)
		}
	}
	return missing
}

// sameSignature compares an interface method type with a concrete method
// type, which carries the receiver as its first input.
func sameSignature(iface, concrete reflect.Type) bool {
	if concrete.NumIn() != iface.NumIn()+1 || concrete.NumOut() != iface.NumOut() {
		return false
	}
	for i := 0; i < iface.NumIn(); i++ {
		if iface.In(i) != concrete.In(i+1) {
			return false
		}
	}
	for i := 0; i < iface.NumOut(); i++ {
		if iface.Out(i) != concrete.Out(i) {
			return false
		}
	}
	return true
}
