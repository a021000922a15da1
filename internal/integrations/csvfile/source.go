// Package csvfile reads delivery lists from CSV uploads and files.
//
// The first row is a header. Recognized columns (case-insensitive):
// address (required), demand, lat/latitude, lng/lon/longitude, depot.
// Unknown columns are ignored. Demand defaults to 1.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fleetroute/internal/geo"
	"fleetroute/internal/integrations"
)

// Source reads records from Open, which is called once per fetch.
type Source struct {
	Label string
	Open  func() (io.ReadCloser, error)
}

// FromFile returns a Source over a file path.
func FromFile(path string) Source {
	return Source{Label: path, Open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// FromReader returns a Source over an in-memory body.
func FromReader(label string, r io.Reader) Source {
	return Source{Label: label, Open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil }}
}

func (s Source) Name() string { return "csv:" + s.Label }

func (s Source) FetchDeliveries(ctx context.Context) ([]integrations.DeliveryRecord, error) {
	rc, err := s.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Label, err)
	}
	defer rc.Close()
	return Parse(ctx, rc)
}

// ErrNoAddressColumn is returned when the header lacks an address column.
var ErrNoAddressColumn = errors.New("csv header has no address column")

type columns struct {
	address, demand, lat, lng, depot int
}

func parseHeader(row []string) (columns, error) {
	c := columns{address: -1, demand: -1, lat: -1, lng: -1, depot: -1}
	for i, h := range row {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "address":
			c.address = i
		case "demand":
			c.demand = i
		case "lat", "latitude":
			c.lat = i
		case "lng", "lon", "longitude":
			c.lng = i
		case "depot", "is_depot":
			c.depot = i
		}
	}
	if c.address < 0 {
		return c, ErrNoAddressColumn
	}
	return c, nil
}

// Parse reads every record from r.
func Parse(ctx context.Context, r io.Reader) ([]integrations.DeliveryRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var out []integrations.DeliveryRecord
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec, err := parseRow(cols, row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(c columns, row []string) (integrations.DeliveryRecord, error) {
	rec := integrations.DeliveryRecord{Address: integrations.NormalizeAddress(field(row, c.address)), Demand: 1}
	if rec.Address == "" {
		return rec, errors.New("empty address")
	}
	if s := field(row, c.demand); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil || d < 0 {
			return rec, fmt.Errorf("invalid demand %q", s)
		}
		rec.Demand = d
	}
	if s := field(row, c.depot); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return rec, fmt.Errorf("invalid depot flag %q", s)
		}
		rec.Depot = b
	}
	lat, lng := field(row, c.lat), field(row, c.lng)
	if lat == "" && lng == "" {
		return rec, nil
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	ln, err2 := strconv.ParseFloat(lng, 64)
	coord := geo.Coordinate{Lat: la, Lng: ln}
	if err1 != nil || err2 != nil || !coord.Valid() {
		return rec, fmt.Errorf("invalid coordinate %q,%q", lat, lng)
	}
	rec.Coordinate = &coord
	return rec, nil
}

var _ integrations.DeliverySource = Source{}
