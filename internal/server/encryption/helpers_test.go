package encryption

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/secrets"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	driver, err := data.NewSQLiteDriver("file::memory:")
	require.NoError(t, err)

	db, err := data.NewDB(driver)
	require.NoError(t, err)

	return db
}

func localProvider(t *testing.T) *secrets.LocalProvider {
	t.Helper()

	provider, err := secrets.NewLocalProvider([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return provider
}

func setupService(t *testing.T, modify ...func(*Options)) *Service {
	t.Helper()
	return setupServiceWithProvider(t, localProvider(t), modify...)
}

func setupServiceWithProvider(t *testing.T, provider secrets.Provider, modify ...func(*Options)) *Service {
	t.Helper()

	options := DefaultOptions()
	for _, m := range modify {
		m(&options)
	}

	external := NewExternalStore(afero.NewMemMapFs(), options.ExternalStorePath)
	return NewService(setupDB(t), secrets.NewRegistry(provider), nil, external, options)
}
