// Package config loads clonechat's configuration: a TOML file baseline
// overlaid with the recognised environment variables. The result is
// threaded through engine constructors as an explicit immutable value,
// never a package-level singleton.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds every recognised configuration key.
type Config struct {
	TelegramAPIID   int    `toml:"telegram_api_id"`
	TelegramAPIHash string `toml:"telegram_api_hash"`

	ClonerDelaySeconds int    `toml:"cloner_delay_seconds"`
	ClonerDownloadPath string `toml:"cloner_download_path"`
	FileSizeLimitMB    int    `toml:"file_size_limit_mb"`

	Mode            string `toml:"mode"`
	VideoExtensions []string `toml:"video_extensions"`
	ReencodePlan    string `toml:"reencode_plan"`
	DurationLimit   string `toml:"duration_limit"`
	ActivateTransition bool `toml:"activate_transition"`
	StartIndex      int    `toml:"start_index"`

	HashtagIndex    string `toml:"hashtag_index"`
	DocumentHashtag string `toml:"document_hashtag"`
	DocumentTitle   string `toml:"document_title"`

	PathSummaryTop string `toml:"path_summary_top"`
	PathSummaryBot string `toml:"path_summary_bot"`

	DescriptionsAutoAdapt bool   `toml:"descriptions_auto_adapt"`
	RegisterInviteLink    bool   `toml:"register_invite_link"`
	MaxPath               int    `toml:"max_path"`

	CreateNewChannel bool  `toml:"create_new_channel"`
	ChatID           int64 `toml:"chat_id"`
	MocChatID        int64 `toml:"moc_chat_id"`

	AutodelVideoTemp bool `toml:"autodel_video_temp"`
	TimeLimitMinutes int  `toml:"time_limit"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		ClonerDelaySeconds: 2,
		ClonerDownloadPath: "data/downloads",
		FileSizeLimitMB:    1900,
		Mode:               "zip",
		VideoExtensions:    []string{".mp4", ".mkv", ".mov", ".avi", ".webm"},
		ReencodePlan:       "single",
		DurationLimit:      "02:00:00.000",
		StartIndex:         1,
		MaxPath:            200,
		TimeLimitMinutes:   30,
	}
}

// Load reads config: defaults -> TOML file (if present) -> env vars (env
// wins), with fallback chaining between related fields.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "clonechat.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)
	applyFallbacks(&cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEGRAM_API_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TelegramAPIID = n
		}
	}
	if v := os.Getenv("TELEGRAM_API_HASH"); v != "" {
		cfg.TelegramAPIHash = v
	}
	if v := os.Getenv("CLONER_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClonerDelaySeconds = n
		}
	}
	if v := os.Getenv("CLONER_DOWNLOAD_PATH"); v != "" {
		cfg.ClonerDownloadPath = v
	}
	if v := os.Getenv("FILE_SIZE_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FileSizeLimitMB = n
		}
	}
	if v := os.Getenv("MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("VIDEO_EXTENSIONS"); v != "" {
		cfg.VideoExtensions = strings.Split(v, ",")
	}
	if v := os.Getenv("REENCODE_PLAN"); v != "" {
		cfg.ReencodePlan = v
	}
	if v := os.Getenv("DURATION_LIMIT"); v != "" {
		cfg.DurationLimit = v
	}
	if v := os.Getenv("ACTIVATE_TRANSITION"); v != "" {
		cfg.ActivateTransition = isTruthy(v)
	}
	if v := os.Getenv("START_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StartIndex = n
		}
	}
	if v := os.Getenv("HASHTAG_INDEX"); v != "" {
		cfg.HashtagIndex = v
	}
	if v := os.Getenv("DOCUMENT_HASHTAG"); v != "" {
		cfg.DocumentHashtag = v
	}
	if v := os.Getenv("DOCUMENT_TITLE"); v != "" {
		cfg.DocumentTitle = v
	}
	if v := os.Getenv("PATH_SUMMARY_TOP"); v != "" {
		cfg.PathSummaryTop = v
	}
	if v := os.Getenv("PATH_SUMMARY_BOT"); v != "" {
		cfg.PathSummaryBot = v
	}
	if v := os.Getenv("DESCRIPTIONS_AUTO_ADAPT"); v != "" {
		cfg.DescriptionsAutoAdapt = isTruthy(v)
	}
	if v := os.Getenv("REGISTER_INVITE_LINK"); v != "" {
		cfg.RegisterInviteLink = isTruthy(v)
	}
	if v := os.Getenv("MAX_PATH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPath = n
		}
	}
	if v := os.Getenv("CREATE_NEW_CHANNEL"); v != "" {
		cfg.CreateNewChannel = isTruthy(v)
	}
	if v := os.Getenv("CHAT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ChatID = n
		}
	}
	if v := os.Getenv("MOC_CHAT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MocChatID = n
		}
	}
	if v := os.Getenv("AUTODEL_VIDEO_TEMP"); v != "" {
		cfg.AutodelVideoTemp = isTruthy(v)
	}
	if v := os.Getenv("TIME_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeLimitMinutes = n
		}
	}
}

// applyFallbacks chains related fields so unset values inherit from their
// broader counterpart.
func applyFallbacks(cfg *Config) {
	if cfg.MocChatID == 0 {
		cfg.MocChatID = cfg.ChatID
	}
	if cfg.MaxPath <= 0 {
		cfg.MaxPath = 200
	}
}

func isTruthy(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}
