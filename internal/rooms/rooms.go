package rooms

import (
	"skytalk/internal/models"
)

// City is a discussion room together with its sample weather reading.
type City struct {
	models.Room
	Temperature string
	Condition   string
}

var cities = []City{
	{Room: models.Room{ID: "hanoi", Name: "Hà Nội"}, Temperature: "21°C", Condition: "Có mây"},
	{Room: models.Room{ID: "ho-chi-minh", Name: "TP. Hồ Chí Minh"}, Temperature: "28°C", Condition: "Nắng"},
	{Room: models.Room{ID: "da-nang", Name: "Đà Nẵng"}, Temperature: "25°C", Condition: "Mưa nhẹ"},
	{Room: models.Room{ID: "hai-phong", Name: "Hải Phòng"}, Temperature: "22°C", Condition: "Nhiều mây"},
	{Room: models.Room{ID: "can-tho", Name: "Cần Thơ"}, Temperature: "29°C", Condition: "Nắng gắt"},
	{Room: models.Room{ID: "ha-giang", Name: "Hà Giang"}, Temperature: "18°C", Condition: "Sương mù"},
}

// All returns the rooms in catalog order.
func All() []models.Room {
	rooms := make([]models.Room, len(cities))
	for i, c := range cities {
		rooms[i] = c.Room
	}
	return rooms
}

// IDs returns the slugs of all rooms.
func IDs() []string {
	ids := make([]string, len(cities))
	for i, c := range cities {
		ids[i] = c.ID
	}
	return ids
}

func Lookup(id string) (City, bool) {
	for _, c := range cities {
		if c.ID == id {
			return c, true
		}
	}
	return City{}, false
}
