package config

import "time"

// APIConfig holds runtime configuration for the dockmate API service.
type APIConfig struct {
	Environment    string
	Addr           string
	DatabaseURL    string
	MigrationsDir  string
	JWTSecret      string
	AccessTokenTTL time.Duration

	DockerHost    string
	WorkspaceRoot string
	BuildTimeout  time.Duration

	AWSRegion        string
	ClusterName      string
	ExecutionRoleARN string
	SubnetIDs        []string
	AssignPublicIP   bool
	LogGroupPrefix   string
	LogPollInterval  time.Duration
	LogPollMaxFails  int

	GeneratorURL     string
	GeneratorTimeout time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPEmail    string
	SMTPPassword string
	OTPTTL       time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:    GetString("APP_ENV", "development"),
		Addr:           GetString("API_ADDR", ":8000"),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://dockmate:dockmate@db:5432/dockmate?sslmode=disable"),
		MigrationsDir:  GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:      GetString("JWT_SECRET", ""),
		AccessTokenTTL: time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 1440)) * time.Minute,

		DockerHost:    GetString("DOCKER_HOST", ""),
		WorkspaceRoot: GetString("DEPLOY_WORKDIR", "/tmp/dockmate"),
		BuildTimeout:  time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 600)) * time.Second,

		AWSRegion:        GetString("AWS_REGION", ""),
		ClusterName:      GetString("ECS_CLUSTER_NAME", "dockmate-demo-cluster"),
		ExecutionRoleARN: GetString("ECS_EXECUTION_ROLE_ARN", ""),
		SubnetIDs:        GetStringSlice("ECS_SUBNET_IDS", nil),
		AssignPublicIP:   GetBool("ECS_ASSIGN_PUBLIC_IP", true),
		LogGroupPrefix:   GetString("LOG_GROUP_PREFIX", "/dockmate"),
		LogPollInterval:  time.Duration(GetInt("LOG_POLL_INTERVAL_SECONDS", 3)) * time.Second,
		LogPollMaxFails:  GetInt("LOG_POLL_MAX_FAILURES", 10),

		GeneratorURL:     GetString("ARTIFACT_GENERATOR_URL", ""),
		GeneratorTimeout: time.Duration(GetInt("ARTIFACT_GENERATOR_TIMEOUT_SECONDS", 120)) * time.Second,

		SMTPHost:     GetString("SMTP_SERVER", ""),
		SMTPPort:     GetInt("SMTP_PORT", 587),
		SMTPEmail:    GetString("SMTP_EMAIL", ""),
		SMTPPassword: GetString("SMTP_PASSWORD", ""),
		OTPTTL:       time.Duration(GetInt("OTP_TTL_MINUTES", 5)) * time.Minute,

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
