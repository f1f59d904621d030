package constants

import "time"

const (
	MapVoteDuration    = 60 * time.Second
	ReplacementTimeout = 5 * time.Minute
	DisconnectTimeout  = 2 * time.Minute
	ConnectTimeout     = 5 * time.Minute
)

const (
	StatusCheckInterval = 2 * time.Second
	GameOverGrace       = 10 * time.Second
	StatsRetryWindow    = 5 * time.Minute
	GatheringTimeout    = 20 * time.Minute
	ReplacementGrace    = 15 * time.Minute
	StalePugAge         = 2 * time.Hour
)

const (
	RconDialTimeout = 5 * time.Second
	RconIOTimeout   = 10 * time.Second
	RconPingTimeout = 5 * time.Second
	RconMaxPacket   = 4096 + 14
	LogPacketSize   = 4096
)

const (
	BanCacheTTL          = 5 * time.Minute
	BanCacheCleanup      = 10 * time.Minute
	ExternalAPITimeout   = 10 * time.Second
	DatabaseTimeout      = 5 * time.Second
	RequestTimeout       = 30 * time.Second
	ServerCommandTimeout = 15 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultPugSize = 12
)

var DefaultMaps = []string{
	"cp_badlands",
	"cp_granary",
	"cp_process_final",
	"cp_snakewater_final1",
	"cp_gullywash_final1",
	"cp_sunshine",
	"koth_product_final",
}
