package telemetry

type Config struct {
	// The URL to the Jaeger instance.
	JaegerURL string `yaml:"jaegerUrl"`
	// The package name to use for the telemetry.
	Package string `yaml:"package"`
	// ID of the service instance.
	ID string `yaml:"id"`
	// OTLP exporter configuration. Takes precedence over Jaeger when set.
	OTLP OTLP `yaml:"otlp"`
}

type OTLP struct {
	// The host (and optional port) of the OTLP collector, without protocol.
	Host string `yaml:"host"`
	// Whether to use TLS when talking to the collector.
	Secure bool `yaml:"secure"`
}
