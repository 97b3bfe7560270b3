// Package encryption implements tenant-isolated envelope encryption at
// rest: the tenant key registry, the encrypted blob store, and the key
// rotation orchestrator.
package encryption

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/server/audit"
	"github.com/strongroomhq/strongroom/secrets"
)

type Service struct {
	db        *gorm.DB
	providers *secrets.Registry
	reporter  *audit.Reporter
	external  *ExternalStore
	options   Options
}

// NewService assembles the encryption core. The provider registry is built
// by the caller so provider selection and lifetime stay explicit.
func NewService(db *gorm.DB, providers *secrets.Registry, reporter *audit.Reporter, external *ExternalStore, options Options) *Service {
	return &Service{
		db:        db,
		providers: providers,
		reporter:  reporter,
		external:  external,
		options:   options,
	}
}

// provider returns the configured write-path provider.
func (s *Service) provider() (secrets.Provider, error) {
	p, err := s.providers.Get(s.options.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", internal.ErrKmsUnavailable, err)
	}
	return p, nil
}

// providerFor returns the provider that owns an existing key.
func (s *Service) providerFor(kind string) (secrets.Provider, error) {
	p, err := s.providers.Get(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", internal.ErrKmsUnavailable, err)
	}
	return p, nil
}

func (s *Service) emit(event audit.Event) {
	if s.reporter != nil {
		s.reporter.Emit(event)
	}
}
