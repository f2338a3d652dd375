package common

import (
	"github.com/spf13/viper"
)

// Config holds everything the server reads from config.env or the environment.
type Config struct {
	Port            string `mapstructure:"PORT"`
	Domain          string `mapstructure:"DOMAIN"`
	BaseDomain      string `mapstructure:"BASE_DOMAIN"`
	SessionSecret   string `mapstructure:"SESSION_SECRET"`
	PostgresDSN     string `mapstructure:"POSTGRES_DSN"`
	SQLiteDB        string `mapstructure:"SQLITE_DB"`
	JWTSecret       string `mapstructure:"JWT_SECRET"`
	GeminiAPIKey    string `mapstructure:"GEMINI_API_KEY"`
	VideoAPIKey     string `mapstructure:"VIDEO_API_KEY"`
	VideoAPIURL     string `mapstructure:"VIDEO_API_URL"`
	VAPIDPublicKey  string `mapstructure:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `mapstructure:"VAPID_PRIVATE_KEY"`
	PushContact     string `mapstructure:"PUSH_CONTACT"`
	SMTPHost        string `mapstructure:"SMTP_HOST"`
	SMTPPort        string `mapstructure:"SMTP_PORT"`
	SMTPUser        string `mapstructure:"SMTP_USER"`
	SMTPPassword    string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom        string `mapstructure:"SMTP_FROM"`
}

// LoadConfig reads config.env from the working directory, falling back to
// plain environment variables when the file is absent.
func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	return
}
