// Package weather defines how rooms get their weather annotation.
// Real providers live outside this module; Static serves the catalog readings.
package weather

import (
	"context"
	"fmt"

	"skytalk/internal/models"
	"skytalk/internal/rooms"
)

// Record is a normalized weather reading for a city.
type Record struct {
	City        string `json:"city"`
	Temperature string `json:"temperature"`
	Condition   string `json:"condition"`
}

// Provider returns the current weather of a city. The city key is the room slug.
type Provider interface {
	GetWeather(ctx context.Context, city string) (Record, error)
}

// Static answers from the built-in room catalog.
type Static struct{}

func (Static) GetWeather(ctx context.Context, city string) (Record, error) {
	c, ok := rooms.Lookup(city)
	if !ok {
		return Record{}, fmt.Errorf("%w: no weather for %s", models.ErrNotFound, city)
	}
	return Record{
		City:        c.Name,
		Temperature: c.Temperature,
		Condition:   c.Condition,
	}, nil
}
