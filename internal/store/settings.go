package store

import (
	"context"
	"fmt"
	"strconv"
)

// Settings is the collector's durable configuration, persisted as rows in
// the config table and reloaded on every mutation through this surface.
type Settings struct {
	TeamLabel     string
	ListenPort    int
	RetentionDays int
}

const (
	keyTeamLabel     = "team_name"
	keyAPIKey        = "api_key"
	keyListenPort    = "server_port"
	keyRetentionDays = "retention_days"
)

const (
	defaultTeamLabel     = "My Team"
	defaultListenPort    = 8080
	defaultRetentionDays = 7
)

// LoadSettings reads persisted settings, filling defaults for anything not
// yet written.
func (s *Store) LoadSettings(ctx context.Context) (Settings, error) {
	out := Settings{
		TeamLabel:     defaultTeamLabel,
		ListenPort:    defaultListenPort,
		RetentionDays: defaultRetentionDays,
	}

	if v, ok, err := s.m.GetConfigValue(ctx, keyTeamLabel); err != nil {
		return Settings{}, err
	} else if ok {
		out.TeamLabel = v
	}
	if v, ok, err := s.m.GetConfigValue(ctx, keyListenPort); err != nil {
		return Settings{}, err
	} else if ok {
		port, convErr := strconv.Atoi(v)
		if convErr != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", keyListenPort, convErr)
		}
		out.ListenPort = port
	}
	if v, ok, err := s.m.GetConfigValue(ctx, keyRetentionDays); err != nil {
		return Settings{}, err
	} else if ok {
		days, convErr := strconv.Atoi(v)
		if convErr != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", keyRetentionDays, convErr)
		}
		out.RetentionDays = days
	}
	return out, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	if err := s.m.SetConfigValue(ctx, keyTeamLabel, settings.TeamLabel); err != nil {
		return err
	}
	if err := s.m.SetConfigValue(ctx, keyListenPort, strconv.Itoa(settings.ListenPort)); err != nil {
		return err
	}
	return s.m.SetConfigValue(ctx, keyRetentionDays, strconv.Itoa(settings.RetentionDays))
}

// APIKey returns the persisted shared secret, if one has been generated.
func (s *Store) APIKey(ctx context.Context) (string, bool, error) {
	return s.m.GetConfigValue(ctx, keyAPIKey)
}

func (s *Store) SetAPIKey(ctx context.Context, key string) error {
	return s.m.SetConfigValue(ctx, keyAPIKey, key)
}
