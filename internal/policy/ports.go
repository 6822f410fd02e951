package policy

import "context"

//go:generate mockgen -source=ports.go -destination=mock_ports.go -package=policy

// SettingsSource yields the current policy. Callers must not cache the result.
type SettingsSource interface {
	Current(ctx context.Context) (Settings, error)
}

// Static is a fixed SettingsSource.
type Static Settings

func (s Static) Current(context.Context) (Settings, error) {
	settings := Settings(s)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}
