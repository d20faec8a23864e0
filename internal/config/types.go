package config

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port              int `yaml:"port" validate:"gte=0,lte=65535"`
	ShutdownTimeoutMS int `yaml:"shutdownTimeoutMS" validate:"gte=0"`
}

// RelayConfig tunes ingest and eviction.
type RelayConfig struct {
	SkewToleranceMS  int `yaml:"skewToleranceMS" validate:"gte=0"`
	ReapQueueSize    int `yaml:"reapQueueSize" validate:"gte=0"`
	OfflineAfterSecs int `yaml:"offlineAfterSecs" validate:"gte=0"`
}

// WebSocketConfig tunes the viewer transport.
type WebSocketConfig struct {
	SendQueueSize  int      `yaml:"sendQueueSize" validate:"gte=0"`
	WriteTimeoutMS int      `yaml:"writeTimeoutMS" validate:"gte=0"`
	PongTimeoutMS  int      `yaml:"pongTimeoutMS" validate:"gte=0"`
	PingIntervalMS int      `yaml:"pingIntervalMS" validate:"gte=0"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// FeedConfig selects an optional upstream vehicle feed to poll. At most one
// URL may be set.
type FeedConfig struct {
	GTFSRTURL      string `yaml:"gtfsrtURL" validate:"omitempty,url"`
	SiriXMLURL     string `yaml:"siriXmlURL" validate:"omitempty,url"`
	SiriJSONURL    string `yaml:"siriJsonURL" validate:"omitempty,url"`
	RefreshMinSecs int    `yaml:"refreshMinSecs" validate:"gte=0"`
	TimeoutMS      int    `yaml:"timeoutMS" validate:"gte=0"`
	DefaultRouteID string `yaml:"defaultRouteID"`
}

// KafkaConfig enables the Kafka report consumer and history writer.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic        string   `yaml:"topic"`
	GroupID      string   `yaml:"groupID"`
	HistoryTopic string   `yaml:"historyTopic"`
}

// Stop is one stop on a route, in travel order.
type Stop struct {
	ID        string  `yaml:"id" json:"id" validate:"required"`
	Name      string  `yaml:"name" json:"name" validate:"required"`
	Latitude  float64 `yaml:"latitude" json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" json:"longitude" validate:"gte=-180,lte=180"`
	Landmark  string  `yaml:"landmark" json:"landmark,omitempty"`
}

// Route is a fixed bus route and its ordered stops.
type Route struct {
	ID    string `yaml:"id" json:"id" validate:"required"`
	Name  string `yaml:"name" json:"name" validate:"required"`
	Stops []Stop `yaml:"stops" json:"stops" validate:"dive"`
}

// Bus describes one vehicle of the fleet.
type Bus struct {
	ID       string `yaml:"id" json:"id" validate:"required"`
	Number   string `yaml:"number" json:"busNumber" validate:"required"`
	RouteID  string `yaml:"routeId" json:"routeId"`
	Capacity int    `yaml:"capacity" json:"capacity,omitempty" validate:"gte=0"`
	Status   string `yaml:"status" json:"status,omitempty" validate:"omitempty,oneof=active inactive maintenance"`
}

// MetadataConfig seeds the route/bus catalog and optionally points at the
// CRUD backend that owns it.
type MetadataConfig struct {
	BackendURL          string  `yaml:"backendURL" validate:"omitempty,url"`
	RefreshIntervalSecs int     `yaml:"refreshIntervalSecs" validate:"gte=0"`
	Routes              []Route `yaml:"routes" validate:"dive"`
	Buses               []Bus   `yaml:"buses" validate:"dive"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"serviceName"`
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio" validate:"gte=0,lte=1"`
}

// AppConfig is the root of config.yml.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Relay     RelayConfig     `yaml:"relay"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Feed      FeedConfig      `yaml:"feed"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}
