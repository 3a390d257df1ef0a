package config

// StoresConfig contains paths to the static data files loaded once at startup:
// the historical feature parquet, the calendar features, the rail topology and
// route shapes, capacity metadata, and the trained model artifact.
type StoresConfig struct {
	// FeaturesPath is the parquet file of historical hourly features.
	FeaturesPath string `env:"HISTORICAL_FEATURES_PATH" envDefault:"data/historical_features.parquet"`

	// CalendarPath is the parquet file of calendar features (day type,
	// holidays, school terms) keyed by date.
	CalendarPath string `env:"CALENDAR_FEATURES_PATH" envDefault:"data/calendar_features.parquet"`

	// TopologyPath is the rail network description JSON.
	TopologyPath string `env:"TOPOLOGY_PATH" envDefault:"data/topology.json"`

	// ShapesPath is the route polyline JSON served by the route endpoint.
	ShapesPath string `env:"SHAPES_PATH" envDefault:"data/route_shapes.json"`

	// CapacityMetaPath is the per-line capacity metadata parquet.
	CapacityMetaPath string `env:"CAPACITY_META_PATH" envDefault:"data/line_capacity.parquet"`

	// CapacityOverridePath is the rail capacity override YAML. Entries here
	// win over the parquet metadata.
	CapacityOverridePath string `env:"CAPACITY_OVERRIDE_PATH" envDefault:"data/rail_capacity.yaml"`

	// ModelPath is the trained gradient-boosted-tree artifact.
	ModelPath string `env:"MODEL_PATH" envDefault:"data/model.txt"`

	// LinesPath optionally seeds the transport_lines table at first start.
	LinesPath string `env:"LINES_PATH" envDefault:""`
}
