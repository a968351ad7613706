package di

import (
	"fmt"
	"path/filepath"

	"github.com/folioledger/folioledger/internal/database"
)

// openDatabases opens and migrates all databases in the data directory
func (c *Container) openDatabases() error {
	specs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		{"ledger", database.ProfileLedger, &c.LedgerDB},
		{"portfolio", database.ProfileStandard, &c.PortfolioDB},
		{"history", database.ProfileStandard, &c.HistoryDB},
		{"cache", database.ProfileCache, &c.CacheDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(c.Config.DataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			return fmt.Errorf("failed to open %s database: %w", spec.name, err)
		}
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
		*spec.target = db

		c.Log.Info().
			Str("database", spec.name).
			Str("profile", string(spec.profile)).
			Msg("Database ready")
	}
	return nil
}
