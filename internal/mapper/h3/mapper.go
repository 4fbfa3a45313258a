package h3mapper

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"
)

type Mapper struct {
	res int
}

// New returns a mapper fixed at resolution res.
func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res}, nil
}

func (m *Mapper) Res() int { return m.res }

// CellForPoint indexes an EPSG:4326 point (x=lon, y=lat).
func (m *Mapper) CellForPoint(x, y float64) (string, error) {
	if math.IsNaN(x) || math.IsNaN(y) || x < -180 || x > 180 || y < -90 || y > 90 {
		return "", fmt.Errorf("point (%v,%v) outside EPSG:4326 bounds", x, y)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: y, Lng: x}, m.res)
	if err != nil {
		return "", fmt.Errorf("h3 index: %w", err)
	}
	return c.String(), nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
