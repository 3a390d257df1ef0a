package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLines() []Line {
	return []Line{
		{
			LineCode:  "M2",
			Name:      "Yenikapi - Haciosman",
			FirstTime: "06:00",
			LastTime:  "00:30",
			Stations: []Station{
				{StationID: 101, Name: "Yenikapi", Order: 1, Directions: []Direction{
					{DirectionID: 1, Name: "Haciosman"},
				}},
				{StationID: 115, Name: "Haciosman", Order: 15, Directions: []Direction{
					{DirectionID: 2, Name: "Yenikapi"},
				}},
			},
		},
		{
			LineCode:  "T1",
			Name:      "Kabatas - Bagcilar",
			FirstTime: "06:00",
			LastTime:  "23:30",
			Stations: []Station{
				{StationID: 201, Name: "Kabatas", Order: 1, Directions: []Direction{
					{DirectionID: 1, Name: "Bagcilar"},
					{DirectionID: 2, Name: "Kabatas"},
				}},
			},
		},
	}
}

func TestLineLookupIsCaseInsensitive(t *testing.T) {
	topo := New(testLines(), nil)

	ln, ok := topo.Line("m2")
	require.True(t, ok)
	assert.Equal(t, "Yenikapi - Haciosman", ln.Name)

	_, ok = topo.Line("M9")
	assert.False(t, ok)
}

func TestServiceHours(t *testing.T) {
	topo := New(testLines(), nil)

	first, last, ok := topo.ServiceHours("M2")
	require.True(t, ok)
	assert.Equal(t, "06:00", first)
	assert.Equal(t, "00:30", last)

	_, _, ok = topo.ServiceHours("ghost")
	assert.False(t, ok)
}

func TestStationDirectionsEnumeratesEveryPair(t *testing.T) {
	topo := New(testLines(), nil)

	pairs := topo.StationDirections()
	assert.Len(t, pairs, 4)

	found := false
	for _, p := range pairs {
		if p.StationID == 201 && p.DirectionID == 2 {
			found = true
			assert.Equal(t, "T1", p.LineCode)
			assert.Equal(t, "Kabatas", p.StationName)
			assert.Equal(t, "Kabatas", p.DirectionName)
		}
	}
	assert.True(t, found)
}

func TestTermini(t *testing.T) {
	topo := New(testLines(), nil)

	first, last, ok := topo.Termini("M2")
	require.True(t, ok)
	assert.Equal(t, "Yenikapi", first.Name)
	assert.Equal(t, "Haciosman", last.Name)

	// Single-station line returns the same station twice.
	first, last, ok = topo.Termini("T1")
	require.True(t, ok)
	assert.Equal(t, first.StationID, last.StationID)
}

func TestHasStationDirection(t *testing.T) {
	topo := New(testLines(), nil)
	assert.True(t, topo.HasStationDirection(101, 1))
	assert.False(t, topo.HasStationDirection(101, 2))
	assert.False(t, topo.HasStationDirection(999, 1))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.json")
	doc := `{"lines":[{"line_code":"f1","name":"Funicular","first_time":"06:15","last_time":"23:45","stations":[{"station_id":301,"name":"Taksim","order":1,"directions":[{"direction_id":1,"name":"Kabatas"}]}]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	topo, err := Load(path, nil)
	require.NoError(t, err)

	ln, ok := topo.Line("F1")
	require.True(t, ok)
	assert.Equal(t, "Funicular", ln.Name)
	assert.ElementsMatch(t, []string{"F1"}, topo.LineCodes())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.Error(t, err)
}

func TestShapesLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shapes.json")
	doc := `{"m2":{"G":[[41.0,28.9],[41.1,29.0]],"D":[[41.1,29.0],[41.0,28.9]]}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	shapes, err := LoadShapes(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, shapes.Len())

	shape, ok := shapes.Lookup("M2")
	require.True(t, ok)
	assert.Len(t, shape.G, 2)
	assert.Equal(t, Point{41.0, 28.9}, shape.G[0])
}

func TestShapesMissingFileIsEmptyNotError(t *testing.T) {
	shapes, err := LoadShapes(filepath.Join(t.TempDir(), "nope.json"), nil)
	require.NoError(t, err)
	assert.Zero(t, shapes.Len())
	_, ok := shapes.Lookup("M2")
	assert.False(t, ok)
}

func TestMarmarayStatics(t *testing.T) {
	assert.True(t, IsMarmaray("MARMARAY"))
	assert.True(t, IsMarmaray("marmaray"))
	assert.False(t, IsMarmaray("M2"))

	first, last := MarmarayServiceHours()
	assert.Equal(t, "06:00", first)
	assert.Equal(t, "00:00", last)

	trips := MarmarayTripsPerHour()
	assert.Zero(t, trips[3])
	assert.NotZero(t, trips[8])
	assert.NotZero(t, trips[0])
}
