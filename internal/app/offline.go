package app

import (
	"context"
	"fmt"
	"time"

	"l9alerts/internal/config"
	"l9alerts/internal/event"
	"l9alerts/internal/storage"
	logx "l9alerts/pkg/logx"
)

// Schedule is the stored event list with the resolved scheduler settings.
type Schedule struct {
	Events    []event.Definition
	Location  *time.Location
	ZoneLabel string
	Lead      int
}

// LoadSchedule reads the event list the way a running instance would,
// without requiring transport credentials. Nothing is seeded on disk.
func LoadSchedule(ctx context.Context, path string) (Schedule, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return Schedule{}, err
	}
	t, err := mapTiming(cfg)
	if err != nil {
		return Schedule{}, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return Schedule{}, err
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return Schedule{}, fmt.Errorf("storage: %w", err)
	}
	defer st.Close()

	events, ok, err := st.LoadEvents(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("load events: %w", err)
	}
	if !ok {
		events = event.Defaults()
	}
	return Schedule{Events: events, Location: t.Location, ZoneLabel: t.ZoneLabel, Lead: t.Lead}, nil
}
