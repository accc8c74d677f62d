package config

const (
	defaultConfigPath              = "~/.config/danmu/config.toml"
	defaultLogDir                  = "~/.local/share/danmu/logs"
	defaultLockPath                = "~/.local/share/danmu/danmud.lock"
	defaultDatabasePath            = "~/.local/share/danmu/library.db"
	defaultAPIBind                 = "127.0.0.1:7488"
	defaultFetcherName             = "Danmu"
	defaultLibraryRequestTimeout   = 15
	defaultDebounceSeconds         = 10
	defaultPendingAddTTLMinutes    = 30
	defaultDownloadCooldownMinutes = 5
	defaultSimilarityThreshold     = 0.7
	defaultMinPayloadBytes         = 1024
	defaultASSFont                 = "Microsoft YaHei"
	defaultASSFontSize             = 30
	defaultASSTextOpacity          = 0.8
	defaultASSLineCount            = 10
	defaultASSSpeed                = 8
	defaultProviderRequestTimeout  = 10
	defaultTencentBaseURL          = "https://pbaccess.video.qq.com"
	defaultTencentCommentURL       = "https://dm.video.qq.com"
	defaultIqiyiBaseURL            = "https://pcw-api.iqiyi.com"
	defaultIqiyiSearchURL          = "https://suggest.video.iqiyi.com"
	defaultIqiyiPageURL            = "https://www.iqiyi.com"
	defaultIqiyiCommentURL         = "https://cmts.iqiyi.com"
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Library backends.
const (
	BackendSQLite   = "sqlite"
	BackendJellyfin = "jellyfin"
)

// Provider names accepted in providers.order.
const (
	ProviderTencent = "tencent"
	ProviderIqiyi   = "iqiyi"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			LockPath: defaultLockPath,
			APIBind:  defaultAPIBind,
		},
		Library: Library{
			Backend:        BackendSQLite,
			DatabasePath:   defaultDatabasePath,
			FetcherName:    defaultFetcherName,
			RequestTimeout: defaultLibraryRequestTimeout,
		},
		Queue: Queue{
			DebounceSeconds:         defaultDebounceSeconds,
			PendingAddTTLMinutes:    defaultPendingAddTTLMinutes,
			DownloadCooldownMinutes: defaultDownloadCooldownMinutes,
		},
		Matching: Matching{
			SimilarityThreshold: defaultSimilarityThreshold,
		},
		Download: Download{
			MinPayloadBytes: defaultMinPayloadBytes,
			ASSFont:         defaultASSFont,
			ASSFontSize:     defaultASSFontSize,
			ASSTextOpacity:  defaultASSTextOpacity,
			ASSLineCount:    defaultASSLineCount,
			ASSSpeed:        defaultASSSpeed,
		},
		Providers: Providers{
			Order: []string{ProviderTencent, ProviderIqiyi},
			Tencent: Provider{
				Enabled:        true,
				BaseURL:        defaultTencentBaseURL,
				CommentURL:     defaultTencentCommentURL,
				RequestTimeout: defaultProviderRequestTimeout,
			},
			Iqiyi: Provider{
				Enabled:        true,
				BaseURL:        defaultIqiyiBaseURL,
				SearchURL:      defaultIqiyiSearchURL,
				PageURL:        defaultIqiyiPageURL,
				CommentURL:     defaultIqiyiCommentURL,
				RequestTimeout: defaultProviderRequestTimeout,
			},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Downloads:      true,
			Throttling:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
