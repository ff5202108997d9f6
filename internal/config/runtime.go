package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gridsim/internal/logger"

	"github.com/spf13/viper"
)

// EnvPrefix は環境変数のプレフィックス（GRIDSIM_HTTP_ADDR など）
const EnvPrefix = "GRIDSIM"

// DefaultPassCriteria はデフォルトの合格条件
const DefaultPassCriteria = "score >= 70 && critical_failures == 0"

// Runtime はプロセス全体の実行時設定
type Runtime struct {
	LogLevel    string `mapstructure:"log_level"`
	HTTPAddr    string `mapstructure:"http_addr"`
	DataDir     string `mapstructure:"data_dir"`
	ScenarioDir string `mapstructure:"scenario_dir"`
	// 完了済みセッションをAPIサーバーが保持する時間（0は削除されるまで）
	SessionRetention time.Duration    `mapstructure:"session_retention"`
	Recorder         RecorderSettings `mapstructure:"recorder"`
	Grading          GradingSettings  `mapstructure:"grading"`
}

// RecorderSettings は記録処理の設定
type RecorderSettings struct {
	Buffer     int           `mapstructure:"buffer"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// GradingSettings は採点の設定
type GradingSettings struct {
	PassCriteria string `mapstructure:"pass_criteria"`
}

// DefaultDataDir はセッション記録の保存先を返す
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gridsim"
	}
	return filepath.Join(dir, "gridsim")
}

// SetDefaults はviperにデフォルト値を登録する
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("scenario_dir", "")
	v.SetDefault("session_retention", 10*time.Minute)
	v.SetDefault("recorder.buffer", 256)
	v.SetDefault("recorder.max_retries", 3)
	v.SetDefault("recorder.retry_delay", 200*time.Millisecond)
	v.SetDefault("grading.pass_criteria", DefaultPassCriteria)
}

// NewViper はデフォルト値と環境変数を設定したviperを返す
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadRuntime は設定ファイル（任意）を読み込み、Runtimeを構築する
// file が空の場合はデフォルト値・環境変数・フラグのみを使う
func LoadRuntime(v *viper.Viper, file string) (Runtime, error) {
	var rt Runtime

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return rt, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&rt); err != nil {
		return rt, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return rt, err
	}
	return rt, nil
}

// Validate は実行時設定を検証する
func (r Runtime) Validate() error {
	if _, err := logger.ParseLevel(r.LogLevel); err != nil {
		return err
	}
	if strings.TrimSpace(r.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if r.Recorder.Buffer < 1 {
		return fmt.Errorf("recorder.buffer must be at least 1")
	}
	if r.Recorder.MaxRetries < 0 {
		return fmt.Errorf("recorder.max_retries must be non-negative")
	}
	if r.Recorder.RetryDelay < 0 {
		return fmt.Errorf("recorder.retry_delay must be non-negative")
	}
	if r.SessionRetention < 0 {
		return fmt.Errorf("session_retention must be non-negative")
	}
	return nil
}
