package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/shop", driverURL("postgres://u:p@db:5432/shop"))
	require.Equal(t, "pgx5://db/shop", driverURL("postgresql://db/shop"))
	require.Equal(t, "pgx5://db/shop", driverURL("pgx5://db/shop"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

func TestCheckoutSchemaGuardsDuplicateBrandOrders(t *testing.T) {
	body, err := fs.ReadFile(files, "sql/000002_checkout.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "UNIQUE (gateway_order_id, brand_id)")
}
