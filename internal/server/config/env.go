package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/facegate/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "FACEGATE_"

// parseEnv loads a dotenv file into the process environment and then reads
// FACEGATE_* variables. The file comes from -n/-env; without the flag a
// ./.env file is used when present. Variables already set in the
// environment win over the file. Malformed values panic.
func parseEnv(config *Config) {
	if path := flagx.EnvFileFlags(); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	envString("HTTP_ADDR", &config.HTTPAddr)
	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("SECRET_KEY", &config.SecretKey)
	envDuration("SESSION_VALIDITY", &config.SessionValidityDuration)
	envString("BIOMETRIC_MASTER_KEY", &config.BiometricMasterKey)

	envString("ORACLE_URL", &config.OracleURL)
	envString("ORACLE_TOKEN", &config.OracleToken)
	envDuration("ORACLE_EXTRACT_TIMEOUT", &config.OracleExtractTimeout)
	envDuration("ORACLE_COMPARE_TIMEOUT", &config.OracleCompareTimeout)

	envString("CHALLENGE_STORE", &config.ChallengeStore)
	envString("REDIS_ADDR", &config.RedisAddr)
	envString("REDIS_PASSWORD", &config.RedisPassword)
	envInt("REDIS_DB", &config.RedisDB)

	envString("AMQP_URL", &config.AMQPURL)
	envString("AUDIT_QUEUE", &config.AuditQueue)
	envDuration("AUDIT_RETENTION", &config.AuditRetention)
	envDuration("SWEEP_INTERVAL", &config.SweepInterval)

	envString("S3_ROOT_USER", &config.S3RootUser)
	envString("S3_ROOT_PASSWORD", &config.S3RootPassword)
	envString("S3_BUCKET", &config.S3Bucket)
	envString("S3_REGION", &config.S3Region)
	envString("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)

	envInt("BCRYPT_COST", &config.BcryptCost)
	envInt("RATE_LIMIT_PER_MINUTE", &config.RateLimitPerMinute)
	envString("LOG_LEVEL", &config.LogLevel)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(err)
	}
	*dst = n
}

func envDuration(name string, dst *time.Duration) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	*dst = d
}
