package conf

const (
	APP_NAME = "zzimage"
	APP_DESC = "Text-to-image relay with credential pooling"
)

// 以下变量由构建时通过 -ldflags 注入
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	Author    = "unknown"
	Repo      = "https://github.com/mkleve522/zzimage"
)
