package geocode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/types"
)

const sample = `
areas:
  - name: Yoff
    lat: 14.755
    lng: -17.470
  - name: Grand Yoff
    lat: 14.730
    lng: -17.450
  - name: Médina
    lat: 14.6858
    lng: -17.451
    aliases: ["medina", "gueule tapee"]
`

type fixed struct {
	p   types.Point
	err error
}

func (f fixed) Lookup(context.Context, string) (types.Point, error) { return f.p, f.err }

func TestTableLookup(t *testing.T) {
	tbl, err := ParseTable([]byte(sample))
	require.NoError(t, err)

	tests := []struct {
		addr string
		want types.Point
		err  error
	}{
		{"Rue 10, MEDINA, Dakar", types.Point{Lat: 14.6858, Lng: -17.451}, nil},
		{"près du marché de la Médina", types.Point{Lat: 14.6858, Lng: -17.451}, nil},
		{"Grand-Yoff, cité SIPRES", types.Point{Lat: 14.730, Lng: -17.450}, nil},
		{"Yoff Virage", types.Point{Lat: 14.755, Lng: -17.470}, nil},
		{"Gueule Tapée", types.Point{Lat: 14.6858, Lng: -17.451}, nil},
		{"Yoffice park", types.Point{}, ErrNoMatch},
		{"", types.Point{}, ErrNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := tbl.Lookup(context.Background(), tt.addr)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTableRejectsBadCoordinates(t *testing.T) {
	_, err := ParseTable([]byte("areas:\n  - name: x\n    lat: 91\n    lng: 0\n"))
	assert.Error(t, err)
}

func TestLoadShippedTable(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "areas.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("areas.yaml not found")
	}
	tbl, err := LoadTable(path)
	require.NoError(t, err)
	assert.Greater(t, tbl.Len(), 10)

	p, err := tbl.Lookup(context.Background(), "Almadies, route de Ngor")
	require.NoError(t, err)
	assert.True(t, p.Valid())
}

func TestChain(t *testing.T) {
	want := types.Point{Lat: 1, Lng: 2}
	c := Chain{fixed{err: ErrNoMatch}, fixed{p: want}}
	got, err := c.Lookup(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	boom := errors.New("quota")
	_, err = Chain{fixed{err: ErrNoMatch}, fixed{err: boom}}.Lookup(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.ErrorIs(t, err, boom)
}
