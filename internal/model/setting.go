package model

import (
	"fmt"
	"net/url"
	"strconv"
)

type SettingKey string

const (
	SettingKeyProxyURL          SettingKey = "proxy_url"
	SettingKeyGenLogKeepPeriod  SettingKey = "gen_log_keep_period"  // 生成日志保存时间范围(天)
	SettingKeyGenLogKeepEnabled SettingKey = "gen_log_keep_enabled" // 是否保留历史生成日志
	SettingKeyCORSAllowOrigins  SettingKey = "cors_allow_origins"   // 跨域白名单(逗号分隔). 为空不允许跨域, "*"允许所有
)

type Setting struct {
	Key   SettingKey `json:"key" gorm:"primaryKey"`
	Value string     `json:"value" gorm:"not null"`
}

func DefaultSettings() []Setting {
	return []Setting{
		{Key: SettingKeyProxyURL, Value: ""},
		{Key: SettingKeyCORSAllowOrigins, Value: ""},
		{Key: SettingKeyGenLogKeepPeriod, Value: "7"},
		{Key: SettingKeyGenLogKeepEnabled, Value: "true"},
	}
}

func (s *Setting) Validate() error {
	switch s.Key {
	case SettingKeyGenLogKeepPeriod:
		_, err := strconv.Atoi(s.Value)
		if err != nil {
			return fmt.Errorf("gen log keep period must be an integer")
		}
		return nil
	case SettingKeyGenLogKeepEnabled:
		if s.Value != "true" && s.Value != "false" {
			return fmt.Errorf("gen log keep enabled must be true or false")
		}
		return nil
	case SettingKeyProxyURL:
		if s.Value == "" {
			return nil
		}
		parsedURL, err := url.Parse(s.Value)
		if err != nil {
			return fmt.Errorf("proxy URL is invalid: %w", err)
		}
		validSchemes := map[string]bool{
			"http":   true,
			"https":  true,
			"socks":  true,
			"socks5": true,
		}
		if !validSchemes[parsedURL.Scheme] {
			return fmt.Errorf("proxy URL scheme must be http, https, socks or socks5")
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("proxy URL must have a host")
		}
		return nil
	}

	return nil
}
