package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/facegate/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-s", "-t", "-k", "-o", "-i", "-l", "-r", "-q",
	"-u", "-p", "-b", "-g", "-e", "-v",
}

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   session token HMAC secret
//	-t int      session validity, minutes
//	-k string   biometric master key
//	-o string   face oracle base URL
//	-i string   face oracle internal token
//	-l string   challenge store: postgres or redis
//	-r string   Redis address
//	-q string   AMQP URL for audit fan-out
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket for audit archives
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-v string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "session secret key")
	sessionValidity := fs.Int("t", int(config.SessionValidityDuration.Minutes()), "session validity (in minutes)")
	fs.StringVar(&config.BiometricMasterKey, "k", config.BiometricMasterKey, "biometric master key")
	fs.StringVar(&config.OracleURL, "o", config.OracleURL, "face oracle URL")
	fs.StringVar(&config.OracleToken, "i", config.OracleToken, "face oracle internal token")
	fs.StringVar(&config.ChallengeStore, "l", config.ChallengeStore, "challenge store (postgres|redis)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.AMQPURL, "q", config.AMQPURL, "AMQP URL")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 archive bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionValidityDuration = time.Duration(*sessionValidity) * time.Minute
}
