// Package carconfig loads, validates and hot-reloads the per-vehicle sensor
// configuration.
//
// The Store holds the active Document behind an atomic pointer: readers
// (the packet decoder) always see a complete document, and Update swaps in
// a freshly parsed one in a single step.
package carconfig

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/monitoring"
)

// Store owns the configuration document.
type Store struct {
	src Source
	log *zap.Logger

	doc atomic.Pointer[Document]
	// mu serialises Update so that persist+reload pairs do not interleave.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore loads the document from src.
func NewStore(src Source, opts ...Option) (*Store, error) {
	s := &Store{src: src}
	for _, o := range opts {
		o(s)
	}
	s.log = monitoring.OrDefault(s.log).Named("carconfig")

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc.Store(doc)
	return s, nil
}

// Load is a convenience for NewStore(NewFileSource(path)).
func Load(path string, opts ...Option) (*Store, error) {
	return NewStore(NewFileSource(path), opts...)
}

func (s *Store) load() (*Document, error) {
	if s.src == nil {
		return nil, configErr("", ErrNoSource, "")
	}
	data, err := s.src.Read()
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.Stringer("source", s.src), zap.Int("cars", doc.Len())}
	if active, ok := doc.Active(); ok {
		fields = append(fields, zap.String("active", active.Name))
	}
	s.log.Info("configuration loaded", fields...)
	if n := doc.activeCount(); n > 1 {
		active, _ := doc.Active()
		s.log.Warn("multiple cars marked active; using the first in document order",
			zap.Int("active_count", n), zap.String("using", active.Name))
	}
	return doc, nil
}

// Document returns the current document snapshot.
func (s *Store) Document() *Document {
	return s.doc.Load()
}

func (s *Store) profile(name string) (VehicleProfile, error) {
	doc := s.doc.Load()
	if name == "" {
		p, ok := doc.Active()
		if !ok {
			return VehicleProfile{}, configErr("", ErrNoActiveVehicle, "")
		}
		return p, nil
	}
	p, ok := doc.Profile(name)
	if !ok {
		return VehicleProfile{}, configErr(name, ErrVehicleNotFound, "")
	}
	return p, nil
}

// Sensors returns the sensor map of the named car, or of the active car
// when name is empty.
func (s *Store) Sensors(name string) (Sensors, error) {
	p, err := s.profile(name)
	if err != nil {
		return nil, err
	}
	return p.Sensors.Clone(), nil
}

// Metadata returns the metadata of the named car, or of the active car
// when name is empty.
func (s *Store) Metadata(name string) (VehicleMetadata, error) {
	p, err := s.profile(name)
	if err != nil {
		return VehicleMetadata{}, err
	}
	return p.Metadata, nil
}

// Update replaces the whole configuration with text. The text is validated
// first; an invalid document leaves the current one untouched. A valid
// document is persisted to the source and then reloaded from it, so the
// in-memory state always matches what a restart would load.
func (s *Store) Update(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := Parse([]byte(text)); err != nil {
		s.log.Warn("rejected configuration update", zap.Error(err))
		return err
	}
	if s.src == nil {
		return configErr("", ErrNoSource, "")
	}
	if err := s.src.Write([]byte(text)); err != nil {
		s.log.Error("failed to persist configuration update", zap.Error(err))
		return configErr("", ErrPersist, "%v", err)
	}

	doc, err := s.load()
	if err != nil {
		s.log.Error("configuration persisted but reload failed", zap.Error(err))
		return err
	}
	s.doc.Store(doc)
	return nil
}

// Reload re-reads the source, replacing the current document on success.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	s.doc.Store(doc)
	return nil
}
