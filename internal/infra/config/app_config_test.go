package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/mangogate/errs"
)

const groupYAML = `
groups:
  - name: mainnet.1
    cluster: mainnet
    publicKey: 98pjRuQjK3qA6gXts96PqZT4Ze5QmnCmt3QYjhbUSPue
    mangoProgramId: mv3ekLzLbnVPNxjSKvqBpU3ZeZXPQdEC3bp5MDEBG68
    serumProgramId: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
    quoteSymbol: USDC
    spotMarkets:
      - name: SOL/USDC
        publicKey: 9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT
        marketIndex: 3
        baseSymbol: SOL
        baseDecimals: 9
        quoteDecimals: 6
    perpMarkets:
      - name: SOL-PERP
        publicKey: SysvarC1ock11111111111111111111111111111111
        marketIndex: 3
        baseSymbol: SOL
        baseDecimals: 9
        quoteDecimals: 6
        bidsKey: SysvarRent111111111111111111111111111111111
        asksKey: Vote111111111111111111111111111111111111111
        eventsKey: Stake11111111111111111111111111111111111111
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func clearOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MANGOGATE_ENV", "GROUP", "CLUSTER_URL", "KEYPAIR", "MANGO_ACCOUNT"} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeConfig))
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearOverrides(t)
	cfg, err := Load(context.Background(), writeConfig(t, groupYAML))
	require.NoError(t, err)

	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, DefaultGroup, cfg.Group)
	require.Equal(t, "https://api.mainnet-beta.solana.com", cfg.Cluster.URL)
	require.Len(t, cfg.Cluster.Candidates, 3)
	require.Equal(t, []string{"devnet", "localhost", "127.0.0.1"}, cfg.Cluster.PinnedPatterns)
	require.Equal(t, 20*time.Second, cfg.Cluster.RotationInterval)
	require.Equal(t, "processed", cfg.Cluster.Commitment)
	require.Equal(t, 100, cfg.Cluster.MaxAccountsPerRequest)
	require.Equal(t, ArchiveHTTP, cfg.Archive.Driver)
	require.Equal(t, DefaultRecentFillLimit, cfg.Fills.RecentLimit)
	require.False(t, cfg.Signer.Enabled())
	require.Equal(t, ":3000", cfg.APIServer.Addr)
	require.NotContains(t, cfg.Wallet.KeypairPath, "~")

	group, ok := cfg.SelectedGroup()
	require.True(t, ok)
	require.Len(t, group.SpotMarkets, 1)
	require.Equal(t, "SOL-PERP", group.PerpMarkets[0].Name)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearOverrides(t)
	t.Setenv("MANGOGATE_ENV", "PROD")
	t.Setenv("CLUSTER_URL", "https://api.devnet.solana.com")
	t.Setenv("KEYPAIR", "[1,2,3]")
	t.Setenv("MANGO_ACCOUNT", "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT")

	cfg, err := Load(context.Background(), writeConfig(t, "group: ignored\n"+groupYAML))
	require.Error(t, err, "group from file does not exist")

	t.Setenv("GROUP", "mainnet.1")
	cfg, err = Load(context.Background(), writeConfig(t, "group: ignored\n"+groupYAML))
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, "https://api.devnet.solana.com", cfg.Cluster.URL)
	require.Equal(t, "[1,2,3]", cfg.Wallet.Keypair)
	require.Equal(t, "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT", cfg.Wallet.MangoAccount)
}

func TestLoadUnknownGroupIsConfigError(t *testing.T) {
	clearOverrides(t)
	_, err := Load(context.Background(), writeConfig(t, "group: devnet.2\n"+groupYAML))
	require.Error(t, err)
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeConfig, e.Code)
	require.Contains(t, err.Error(), `group \"devnet.2\" not found`)
}

func TestLoadRejectsBadMarketKey(t *testing.T) {
	clearOverrides(t)
	body := groupYAML + `
  - name: broken
    publicKey: 98pjRuQjK3qA6gXts96PqZT4Ze5QmnCmt3QYjhbUSPue
    mangoProgramId: mv3ekLzLbnVPNxjSKvqBpU3ZeZXPQdEC3bp5MDEBG68
    serumProgramId: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
    spotMarkets:
      - name: BAD/USDC
        publicKey: not-a-key
`
	_, err := Load(context.Background(), writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "BAD/USDC")
}

func TestLoadRejectsDuplicateMarketNames(t *testing.T) {
	clearOverrides(t)
	body := groupYAML + `
      - name: SOL/USDC
        publicKey: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
        marketIndex: 4
`
	_, err := Load(context.Background(), writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate market name")
}

func TestLoadGroupsFromIDsFile(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	ids := `{"groups":[{"name":"mainnet.1","publicKey":"98pjRuQjK3qA6gXts96PqZT4Ze5QmnCmt3QYjhbUSPue",` +
		`"mangoProgramId":"mv3ekLzLbnVPNxjSKvqBpU3ZeZXPQdEC3bp5MDEBG68","serumProgramId":"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",` +
		`"spotMarkets":[{"name":"SOL/USDC","publicKey":"9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT","marketIndex":3,"baseSymbol":"SOL","baseDecimals":9,"quoteDecimals":6}],` +
		`"perpMarkets":[]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ids.json"), []byte(ids), 0o600))
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groupsPath: ids.json\n"), 0o600))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	group, ok := cfg.SelectedGroup()
	require.True(t, ok)
	require.Equal(t, int32(9), group.SpotMarkets[0].BaseDecimals)
}

func TestValidateArchiveDriver(t *testing.T) {
	clearOverrides(t)
	_, err := Load(context.Background(), writeConfig(t, "archive:\n  driver: s3\n"+groupYAML))
	require.Error(t, err)
	require.Contains(t, err.Error(), "archive driver")

	cfg, err := Load(context.Background(), writeConfig(t, "archive:\n  driver: Postgres\n"+groupYAML))
	require.NoError(t, err)
	require.Equal(t, ArchivePostgres, cfg.Archive.Driver)
}

func TestDatabaseDefaults(t *testing.T) {
	var db DatabaseConfig
	db.applyDefaults()
	require.NoError(t, db.validate())
	require.Equal(t, int32(8), db.MaxConns)
	require.Equal(t, int32(1), db.MinConns)
}
