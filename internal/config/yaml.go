package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration fields are written as Go duration strings ("45s", "30m") in the
// YAML file. yaml.v3 has no native time.Duration support, so each section
// decodes through a raw shadow struct; fields absent from the file keep the
// defaults already present on the receiver.

func setDuration(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*dst = d
	return nil
}

func (h *HTTPConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Host         string `yaml:"host"`
		Port         *int   `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		IdleTimeout  string `yaml:"idle_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Host != "" {
		h.Host = raw.Host
	}
	if raw.Port != nil {
		h.Port = *raw.Port
	}
	if err := setDuration(&h.ReadTimeout, raw.ReadTimeout); err != nil {
		return err
	}
	if err := setDuration(&h.WriteTimeout, raw.WriteTimeout); err != nil {
		return err
	}
	return setDuration(&h.IdleTimeout, raw.IdleTimeout)
}

func (r *RedisConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Addr         string `yaml:"addr"`
		Password     string `yaml:"password"`
		DB           *int   `yaml:"db"`
		DialTimeout  string `yaml:"dial_timeout"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Addr != "" {
		r.Addr = raw.Addr
	}
	if raw.Password != "" {
		r.Password = raw.Password
	}
	if raw.DB != nil {
		r.DB = *raw.DB
	}
	if err := setDuration(&r.DialTimeout, raw.DialTimeout); err != nil {
		return err
	}
	if err := setDuration(&r.ReadTimeout, raw.ReadTimeout); err != nil {
		return err
	}
	return setDuration(&r.WriteTimeout, raw.WriteTimeout)
}

func (s *ScanConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Budget             string `yaml:"budget"`
		MinStrategyTimeout string `yaml:"min_strategy_timeout"`
		MaxStrategyTimeout string `yaml:"max_strategy_timeout"`
		Concurrency        *int   `yaml:"concurrency"`
		CacheTTL           string `yaml:"cache_ttl"`
		LookupTTLBuffer    string `yaml:"lookup_ttl_buffer"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Concurrency != nil {
		s.Concurrency = *raw.Concurrency
	}
	for _, pair := range []struct {
		dst *time.Duration
		src string
	}{
		{&s.Budget, raw.Budget},
		{&s.MinStrategyTimeout, raw.MinStrategyTimeout},
		{&s.MaxStrategyTimeout, raw.MaxStrategyTimeout},
		{&s.CacheTTL, raw.CacheTTL},
		{&s.LookupTTLBuffer, raw.LookupTTLBuffer},
	} {
		if err := setDuration(pair.dst, pair.src); err != nil {
			return err
		}
	}
	return nil
}

func (a *ArchiveConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled      *bool  `yaml:"enabled"`
		DSN          string `yaml:"dsn"`
		MaxOpenConns *int   `yaml:"max_open_conns"`
		MaxIdleConns *int   `yaml:"max_idle_conns"`
		QueryTimeout string `yaml:"query_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		a.Enabled = *raw.Enabled
	}
	if raw.DSN != "" {
		a.DSN = raw.DSN
	}
	if raw.MaxOpenConns != nil {
		a.MaxOpenConns = *raw.MaxOpenConns
	}
	if raw.MaxIdleConns != nil {
		a.MaxIdleConns = *raw.MaxIdleConns
	}
	return setDuration(&a.QueryTimeout, raw.QueryTimeout)
}
