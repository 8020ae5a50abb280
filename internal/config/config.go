// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	// JWTSecretが空でも起動は継続し、サインイン時に500として表面化させる。
	JWTSecret string
	TokenTTL  time.Duration

	// Password
	BcryptCost int

	// Custody
	// KeyEncryptionKeyが設定されている場合、秘密鍵素材をAES-256-GCMで封緘して保存する。
	KeyEncryptionKey []byte

	// Solana
	RPCURL          string
	SolanaNetwork   string
	AirdropLamports uint64

	// Relay
	RequestTimeout      time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitSign    int
	RateLimitPublic  int

	// Worker
	ConfirmWorkerInterval time.Duration
	ConfirmBatchSize      int
	HistoryRetentionDays  int

	// Server
	ServerPort string
	LogLevel   string

	// CORS
	CORSAllowedOrigins []string

	// Proxy
	// 空の場合はX-Forwarded-For等の転送ヘッダーを一切信用しない。
	TrustedProxies []netip.Prefix
}

// 既知のSolanaネットワーク名
const (
	NetworkDevnet   = "devnet"
	NetworkTestnet  = "testnet"
	NetworkMainnet  = "mainnet-beta"
	NetworkLocalnet = "localnet"
)

// defaultRPCURLs はネットワーク名ごとの既定RPCエンドポイント。
var defaultRPCURLs = map[string]string{
	NetworkDevnet:   "https://api.devnet.solana.com",
	NetworkTestnet:  "https://api.testnet.solana.com",
	NetworkMainnet:  "https://api.mainnet-beta.solana.com",
	NetworkLocalnet: "http://127.0.0.1:8899",
}

// LoadDotEnv はカレントディレクトリの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(filenames ...string) {
	if err := godotenv.Load(filenames...); err != nil {
		slog.Debug("no .env file loaded, using process environment",
			slog.String("error", err.Error()),
		)
	}
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SolanaNetwork = getEnvString("SOLANA_NETWORK", NetworkDevnet)
	defaultRPC, ok := defaultRPCURLs[cfg.SolanaNetwork]
	if !ok {
		return nil, fmt.Errorf("unknown SOLANA_NETWORK: %q", cfg.SolanaNetwork)
	}
	cfg.RPCURL = getEnvString("RPC_URL", defaultRPC)

	if raw := os.Getenv("KEY_ENCRYPTION_KEY"); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("KEY_ENCRYPTION_KEY must be base64: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("KEY_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.KeyEncryptionKey = key
	}

	// Optional fields with defaults
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.AirdropLamports = getEnvUint64("AIRDROP_LAMPORTS", 1_000_000_000)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
	cfg.ConfirmTimeout = getEnvDuration("CONFIRM_TIMEOUT", 20*time.Second)
	cfg.ConfirmPollInterval = getEnvDuration("CONFIRM_POLL_INTERVAL", 2*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSign = getEnvInt("RATE_LIMIT_SIGN", 10)
	cfg.RateLimitPublic = getEnvInt("RATE_LIMIT_PUBLIC", 30)
	cfg.ConfirmWorkerInterval = getEnvDuration("CONFIRM_WORKER_INTERVAL", 30*time.Second)
	cfg.ConfirmBatchSize = getEnvInt("CONFIRM_BATCH_SIZE", 100)
	cfg.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"})

	proxies, err := parsePrefixes(getEnvList("TRUSTED_PROXIES", nil))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は設定値の組み合わせを検証する。
func (c *Config) validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %v", c.RequestTimeout)
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be positive, got %v", c.ConfirmTimeout)
	}
	// 確定待ちはブロックハッシュ取得と送信の後に始まるため、リクエスト全体の期限より短くなければならない
	if c.ConfirmTimeout >= c.RequestTimeout {
		return fmt.Errorf("CONFIRM_TIMEOUT (%v) must be shorter than REQUEST_TIMEOUT (%v)", c.ConfirmTimeout, c.RequestTimeout)
	}
	if c.ConfirmPollInterval <= 0 {
		return fmt.Errorf("CONFIRM_POLL_INTERVAL must be positive, got %v", c.ConfirmPollInterval)
	}
	if c.ConfirmWorkerInterval <= 0 {
		return fmt.Errorf("CONFIRM_WORKER_INTERVAL must be positive, got %v", c.ConfirmWorkerInterval)
	}
	return nil
}

// parsePrefixes はCIDRまたは単一IPのリストをネットワーク範囲に変換する。
// 単一IPはそのアドレスのみを含む範囲として扱う。
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AirdropAllowed は設定されたネットワークでエアドロップが利用可能かを返す。
func (c *Config) AirdropAllowed() bool {
	return c.SolanaNetwork != NetworkMainnet
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
