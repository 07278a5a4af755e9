package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/mkleve522/zzimage/internal/utils/log"
	"github.com/spf13/viper"
)

type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Database struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// Generate 上游文生图相关配置
type Generate struct {
	BaseURL              string `mapstructure:"base_url"`
	DefaultModel         string `mapstructure:"default_model"`
	DefaultSteps         int    `mapstructure:"default_steps"`
	DailyQuota           int    `mapstructure:"daily_quota"`            // 每个凭证每日可成功使用次数
	RequestTimeout       int    `mapstructure:"request_timeout"`        // 上游请求超时(秒)
	MaxRetries           int    `mapstructure:"max_retries"`            // 同一凭证的重试次数
	MaxCredentialRetries int    `mapstructure:"max_credential_retries"` // 凭证故障转移次数
	RetryDelayMs         int    `mapstructure:"retry_delay_ms"`         // 重试基础延迟(毫秒)
	MinSize              int    `mapstructure:"min_size"`
	MaxSize              int    `mapstructure:"max_size"`
	MaxPromptLen         int    `mapstructure:"max_prompt_len"`
	MaxNegativePromptLen int    `mapstructure:"max_negative_prompt_len"`
	MinSteps             int    `mapstructure:"min_steps"`
	MaxSteps             int    `mapstructure:"max_steps"`
}

type Config struct {
	Server   Server   `mapstructure:"server"`
	Log      Log      `mapstructure:"log"`
	Database Database `mapstructure:"database"`
	Generate Generate `mapstructure:"generate"`
}

var AppConfig Config

func Load(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath("data")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(APP_NAME)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Infof("Config file not found, creating default config")
			if err := os.MkdirAll("data", 0755); err != nil {
				log.Errorf("Failed to create data directory: %v", err)
			}
			if err := viper.SafeWriteConfigAs("data/config.json"); err != nil {
				log.Errorf("Failed to create default config: %v", err)
			}
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.path", "data/data.db")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("generate.base_url", "https://ai.gitee.com")
	viper.SetDefault("generate.default_model", "z-image-turbo")
	viper.SetDefault("generate.default_steps", 9)
	viper.SetDefault("generate.daily_quota", 100)
	viper.SetDefault("generate.request_timeout", 120)
	viper.SetDefault("generate.max_retries", 3)
	viper.SetDefault("generate.max_credential_retries", 3)
	viper.SetDefault("generate.retry_delay_ms", 1000)
	viper.SetDefault("generate.min_size", 256)
	viper.SetDefault("generate.max_size", 2048)
	viper.SetDefault("generate.max_prompt_len", 4000)
	viper.SetDefault("generate.max_negative_prompt_len", 2000)
	viper.SetDefault("generate.min_steps", 1)
	viper.SetDefault("generate.max_steps", 50)
}
