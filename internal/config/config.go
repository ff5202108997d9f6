package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gridsim/internal/scenario"

	"gopkg.in/yaml.v3"
)

// FileConfig はシナリオ定義ファイルの構造
type FileConfig struct {
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
}

// ScenarioConfig はシナリオ設定
type ScenarioConfig struct {
	ID          string       `yaml:"id" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description" json:"description"`
	Steps       []StepConfig `yaml:"steps" json:"steps"`
}

// StepConfig はステップ設定
type StepConfig struct {
	ID          string `yaml:"id" json:"id"`
	Order       int    `yaml:"order" json:"order"`
	Description string `yaml:"description" json:"description"`
	Action      string `yaml:"action" json:"action"`
	Expected    string `yaml:"expected" json:"expected"`
	Points      int    `yaml:"points" json:"points"`
	Critical    bool   `yaml:"critical" json:"critical"`
	TimeLimit   string `yaml:"time_limit" json:"time_limit"` // 例: 30s, 1m（空で無制限）
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario format: %s", ext)
	}

	return &config, nil
}

// IsScenarioFile は読み込み可能な拡張子かどうかを返す
func IsScenarioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ToScenario はFileConfigをscenario.Scenarioに変換する
func (f *FileConfig) ToScenario() (scenario.Scenario, error) {
	sc := f.Scenario

	out := scenario.Scenario{
		ID:          strings.TrimSpace(sc.ID),
		Name:        sc.Name,
		Description: sc.Description,
		Steps:       make([]scenario.Step, 0, len(sc.Steps)),
	}
	if out.Name == "" {
		out.Name = out.ID
	}

	for i, st := range sc.Steps {
		order := st.Order
		// orderが省略された場合は記述順
		if order == 0 {
			order = i + 1
		}

		limit, err := parseTimeLimit(st.TimeLimit)
		if err != nil {
			return out, fmt.Errorf("step %d: %w", order, err)
		}

		out.Steps = append(out.Steps, scenario.Step{
			ID:               st.ID,
			Order:            order,
			Description:      st.Description,
			ActionType:       scenario.ActionType(strings.TrimSpace(st.Action)),
			ExpectedValue:    st.Expected,
			PointValue:       st.Points,
			IsCritical:       st.Critical,
			TimeLimitSeconds: limit,
		})
	}

	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// parseTimeLimit は制限時間を秒に変換する
// 整数秒のみ受け付ける
func parseTimeLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time_limit: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("time_limit must be positive")
	}
	if d%time.Second != 0 {
		return 0, fmt.Errorf("time_limit must be a whole number of seconds: %s", s)
	}
	return int(d / time.Second), nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	sc := f.Scenario

	if strings.TrimSpace(sc.ID) == "" {
		return fmt.Errorf("scenario.id is required")
	}

	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario.steps must not be empty")
	}

	for i, st := range sc.Steps {
		if strings.TrimSpace(st.Action) == "" {
			return fmt.Errorf("steps[%d].action is required", i)
		}
		if st.Points < 0 {
			return fmt.Errorf("steps[%d].points must be non-negative", i)
		}
		if st.Order < 0 {
			return fmt.Errorf("steps[%d].order must be non-negative", i)
		}
	}

	return nil
}
