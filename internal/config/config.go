package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Cursor backends.
const (
	CursorDB   = "db"
	CursorFile = "file"
)

// PairedToken is a quote asset for pool discovery. An empty Symbol is read from chain.
type PairedToken struct {
	Address common.Address
	Symbol  string
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL   string
	RPCRPS   float64
	RPCBurst int

	Factory           common.Address
	RelayAddress      common.Address
	DeployerOverrides map[common.Hash]common.Address

	ChunkSize           uint64
	MaxBlocksPerScan    uint64
	ColdStartWindow     uint64
	ChunkFailureBackoff time.Duration
	MaxRetries          int
	RetryBackoff        time.Duration

	BatchSize          int
	BatchInitialDelay  time.Duration
	BatchBackoffFactor float64
	BatchMaxDelay      time.Duration

	PoolFactory    common.Address
	PairedTokens   []PairedToken
	FeeTiers       []uint32
	PoolBatchLimit int
	PoolTokenDelay time.Duration

	Interval time.Duration

	Store        string
	PostgresDSN  string
	SQLitePath   string
	CursorStore  string
	Checkpoint   string
	CursorName   string
	DecodeErrors string

	Listen   string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:              v.GetString("rpc"),
		RPCRPS:              v.GetFloat64("rpc-rps"),
		RPCBurst:            v.GetInt("rpc-burst"),
		ChunkSize:           v.GetUint64("chunk-size"),
		MaxBlocksPerScan:    v.GetUint64("max-blocks-per-scan"),
		ColdStartWindow:     v.GetUint64("cold-start-window"),
		ChunkFailureBackoff: v.GetDuration("chunk-failure-backoff"),
		MaxRetries:          v.GetInt("max-retries"),
		RetryBackoff:        v.GetDuration("retry-backoff"),
		BatchSize:           v.GetInt("batch-size"),
		BatchInitialDelay:   v.GetDuration("batch-initial-delay"),
		BatchBackoffFactor:  v.GetFloat64("batch-backoff-factor"),
		BatchMaxDelay:       v.GetDuration("batch-max-delay"),
		PoolBatchLimit:      v.GetInt("pool-batch-limit"),
		PoolTokenDelay:      v.GetDuration("pool-token-delay"),
		Interval:            v.GetDuration("interval"),
		Store:               strings.ToLower(v.GetString("store")),
		PostgresDSN:         v.GetString("pg-dsn"),
		SQLitePath:          v.GetString("sqlite-path"),
		CursorStore:         strings.ToLower(v.GetString("cursor-store")),
		Checkpoint:          v.GetString("checkpoint"),
		CursorName:          v.GetString("cursor-name"),
		DecodeErrors:        v.GetString("decode-errors"),
		Listen:              v.GetString("listen"),
		LogLevel:            v.GetString("log-level"),
	}

	var err error
	if cfg.Factory, err = optionalAddress(v.GetString("factory")); err != nil {
		return Config{}, fmt.Errorf("factory: %w", err)
	}
	if cfg.RelayAddress, err = optionalAddress(v.GetString("relay-address")); err != nil {
		return Config{}, fmt.Errorf("relay-address: %w", err)
	}
	if cfg.PoolFactory, err = optionalAddress(v.GetString("pool-factory")); err != nil {
		return Config{}, fmt.Errorf("pool-factory: %w", err)
	}
	if cfg.DeployerOverrides, err = parseOverrides(getStringMap(v, "deployer-overrides")); err != nil {
		return Config{}, fmt.Errorf("deployer-overrides: %w", err)
	}
	if cfg.PairedTokens, err = parsePairedTokens(getStringSlice(v, "paired-tokens")); err != nil {
		return Config{}, fmt.Errorf("paired-tokens: %w", err)
	}
	if cfg.FeeTiers, err = parseFeeTiers(getStringSlice(v, "fee-tiers")); err != nil {
		return Config{}, fmt.Errorf("fee-tiers: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc-rps", 10.0)
	v.SetDefault("rpc-burst", 5)
	v.SetDefault("chunk-size", uint64(2000))
	v.SetDefault("max-blocks-per-scan", uint64(10000))
	v.SetDefault("cold-start-window", uint64(100))
	v.SetDefault("chunk-failure-backoff", 5*time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("batch-size", 50)
	v.SetDefault("batch-initial-delay", time.Second)
	v.SetDefault("batch-backoff-factor", 2.0)
	v.SetDefault("batch-max-delay", 30*time.Second)
	v.SetDefault("fee-tiers", "500,3000,10000")
	v.SetDefault("pool-batch-limit", 50)
	v.SetDefault("pool-token-delay", 500*time.Millisecond)
	v.SetDefault("interval", time.Minute)
	v.SetDefault("store", StorePostgres)
	v.SetDefault("sqlite-path", "./data/tokens.db")
	v.SetDefault("cursor-store", CursorDB)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("cursor-name", "token-factory")
	v.SetDefault("listen", ":9100")
	v.SetDefault("log-level", "info")
}

func (c Config) validate() error {
	switch c.Store {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}
	switch c.CursorStore {
	case CursorDB, CursorFile:
	default:
		return fmt.Errorf("unsupported cursor-store %q", c.CursorStore)
	}
	if c.CursorStore == CursorFile && c.Checkpoint == "" {
		return fmt.Errorf("checkpoint path is required for the file cursor store")
	}
	if c.CursorName == "" {
		return fmt.Errorf("cursor-name is required")
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk-size must be greater than zero")
	}
	if c.MaxBlocksPerScan == 0 {
		return fmt.Errorf("max-blocks-per-scan must be greater than zero")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than zero")
	}
	if c.BatchInitialDelay < 0 || c.BatchMaxDelay < 0 {
		return fmt.Errorf("batch delays must not be negative")
	}
	if c.BatchBackoffFactor < 1 {
		return fmt.Errorf("batch-backoff-factor must be >= 1")
	}
	if c.BatchMaxDelay < c.BatchInitialDelay {
		return fmt.Errorf("batch-max-delay must be >= batch-initial-delay")
	}
	if c.PoolBatchLimit <= 0 {
		return fmt.Errorf("pool-batch-limit must be greater than zero")
	}
	return nil
}

// RequireChain checks the settings every chain-facing command needs.
func (c Config) RequireChain() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	return nil
}

// RequireScan checks the settings the scanner needs.
func (c Config) RequireScan() error {
	if err := c.RequireChain(); err != nil {
		return err
	}
	if c.Factory == (common.Address{}) {
		return fmt.Errorf("factory is required")
	}
	return nil
}

// RequirePools checks the settings pool discovery needs.
func (c Config) RequirePools() error {
	if err := c.RequireChain(); err != nil {
		return err
	}
	if c.PoolFactory == (common.Address{}) {
		return fmt.Errorf("pool-factory is required")
	}
	if len(c.PairedTokens) == 0 {
		return fmt.Errorf("at least one paired token is required")
	}
	if len(c.FeeTiers) == 0 {
		return fmt.Errorf("at least one fee tier is required")
	}
	return nil
}

// PoolsEnabled reports whether pool discovery is configured.
func (c Config) PoolsEnabled() bool {
	return c.PoolFactory != (common.Address{}) && len(c.PairedTokens) > 0
}

func optionalAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address %q", input)
	}
	return common.HexToAddress(input), nil
}

func parseOverrides(raw map[string]string) (map[common.Hash]common.Address, error) {
	out := make(map[common.Hash]common.Address, len(raw))
	for tx, deployer := range raw {
		hash, err := parseHash(tx)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(deployer) {
			return nil, fmt.Errorf("invalid deployer %q for %s", deployer, tx)
		}
		out[hash] = common.HexToAddress(deployer)
	}
	return out, nil
}

func parseHash(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		input = "0x" + input
	}
	raw, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q: %w", input, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q: %d bytes", input, len(raw))
	}
	return common.BytesToHash(raw), nil
}

// parsePairedTokens accepts "address=SYMBOL" or a bare address.
func parsePairedTokens(items []string) ([]PairedToken, error) {
	out := make([]PairedToken, 0, len(items))
	seen := make(map[common.Address]struct{}, len(items))
	for _, item := range items {
		addr, symbol, _ := strings.Cut(item, "=")
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid paired token %q", item)
		}
		address := common.HexToAddress(addr)
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, PairedToken{Address: address, Symbol: strings.TrimSpace(symbol)})
	}
	return out, nil
}

func parseFeeTiers(items []string) ([]uint32, error) {
	out := make([]uint32, 0, len(items))
	for _, item := range items {
		fee, err := strconv.ParseUint(item, 10, 24)
		if err != nil {
			return nil, fmt.Errorf("invalid fee tier %q: %w", item, err)
		}
		out = append(out, uint32(fee))
	}
	return out, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	case []string:
		return parseStringMap(strings.Join(typed, ","))
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
