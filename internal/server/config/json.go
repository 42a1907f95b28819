package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/facegate/internal/flagx"
	"github.com/dmitrijs2005/facegate/internal/timex"
)

// JsonConfig is the on-disk shape of the JSON config file. Intervals use
// timex.Duration so they can be written as "90s" or as nanoseconds.
type JsonConfig struct {
	HTTPAddr                string         `json:"http_addr"`
	DatabaseDSN             string         `json:"database_dsn"`
	SecretKey               string         `json:"secret_key"`
	SessionValidityDuration timex.Duration `json:"session_validity_duration"`
	BiometricMasterKey      string         `json:"biometric_master_key"`

	OracleURL            string         `json:"oracle_url"`
	OracleToken          string         `json:"oracle_token"`
	OracleExtractTimeout timex.Duration `json:"oracle_extract_timeout"`
	OracleCompareTimeout timex.Duration `json:"oracle_compare_timeout"`

	ChallengeStore string `json:"challenge_store"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`

	AMQPURL    string `json:"amqp_url"`
	AuditQueue string `json:"audit_queue"`

	AuditRetention timex.Duration `json:"audit_retention"`
	SweepInterval  timex.Duration `json:"sweep_interval"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	BcryptCost         int    `json:"bcrypt_cost"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	LogLevel           string `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config. Keys that
// are missing or zero in the file leave the current value untouched.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.SessionValidityDuration, c.SessionValidityDuration)
	setString(&config.BiometricMasterKey, c.BiometricMasterKey)

	setString(&config.OracleURL, c.OracleURL)
	setString(&config.OracleToken, c.OracleToken)
	setDuration(&config.OracleExtractTimeout, c.OracleExtractTimeout)
	setDuration(&config.OracleCompareTimeout, c.OracleCompareTimeout)

	setString(&config.ChallengeStore, c.ChallengeStore)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)

	setString(&config.AMQPURL, c.AMQPURL)
	setString(&config.AuditQueue, c.AuditQueue)
	setDuration(&config.AuditRetention, c.AuditRetention)
	setDuration(&config.SweepInterval, c.SweepInterval)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setInt(&config.BcryptCost, c.BcryptCost)
	setInt(&config.RateLimitPerMinute, c.RateLimitPerMinute)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
