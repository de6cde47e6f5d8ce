package account

import (
	"os"
	"runtime"
	"strconv"

	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

// Config holds account-core settings read from the environment.
type Config struct {
	// Store selects the persistence backend: "postgres" or "memory".
	Store string
	// UniqueNames enforces uniqueness of first and last names at the store.
	UniqueNames     bool
	HashConcurrency int
	Argon2          Argon2idHasher
	SnowflakeNode   int64
}

// Accepted ranges for argon2id parameters read from the environment.
const (
	maxArgonTime   = 64
	minArgonMemory = 8 * 1024        // 8 MiB
	maxArgonMemory = 4 * 1024 * 1024 // 4 GiB
)

// ConfigFromEnv reads ACCOUNT_* variables, falling back to defaults.
func ConfigFromEnv() Config {
	store := os.Getenv("ACCOUNT_STORE")
	if store == "" {
		store = "postgres"
	}
	conc := envInt("ACCOUNT_HASH_CONCURRENCY", runtime.NumCPU())
	if conc < 1 {
		conc = 1
	}
	return Config{
		Store:           store,
		UniqueNames:     os.Getenv("ACCOUNT_UNIQUE_NAMES") == "1",
		HashConcurrency: conc,
		Argon2: Argon2idHasher{
			Time:    uint32(envIntInRange("ACCOUNT_HASH_TIME", defaultArgonTime, 1, maxArgonTime)),
			Memory:  uint32(envIntInRange("ACCOUNT_HASH_MEMORY_KIB", defaultArgonMemory, minArgonMemory, maxArgonMemory)),
			Threads: uint8(envIntInRange("ACCOUNT_HASH_THREADS", defaultArgonThreads, 1, 255)),
		},
		SnowflakeNode: utilities.SnowflakeNodeFromEnv(),
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envIntInRange is envInt with values outside [lo, hi] replaced by def.
func envIntInRange(key string, def, lo, hi int) int {
	n := envInt(key, def)
	if n < lo || n > hi {
		return def
	}
	return n
}
