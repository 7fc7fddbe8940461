package config

// OracleConfig controls the price feed guarding risk checks.
type OracleConfig struct {
	// MaxAgeBlocks rejects quotes older than this many blocks. Zero disables
	// the staleness check.
	MaxAgeBlocks uint64 `toml:"MaxAgeBlocks"`
}

// JournalConfig selects the SQL backend for the operation journal.
type JournalConfig struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

// ChainConfig describes the block height source.
type ChainConfig struct {
	// StartHeight seeds the manual clock on a fresh data directory.
	StartHeight uint64 `toml:"StartHeight"`
	// ManualClock enables the development block advance endpoint.
	ManualClock bool `toml:"ManualClock"`
	// BlockTimeSeconds advances the height on a timer when positive.
	BlockTimeSeconds uint64 `toml:"BlockTimeSeconds"`
}

// Pauses switches whole modules off at boot.
type Pauses struct {
	Lending bool `toml:"Lending"`
}
