package cfg

type Cfg struct {
	// Storage configuration
	DataDir string

	// Application configuration
	ProfilesDir  string
	Port         string
	APIAccessKey string

	// Analysis queue configuration
	WorkerCount      int
	PollInterval     int // seconds
	JanitorInterval  int // seconds
	PreliminaryDelay int // seconds
	MaxAttempts      int
	StalledAfter     int // seconds
	PruneMaxAge      int // hours
	PruneKeep        int

	// Vector store configuration
	VectorBackend   string
	VectorDimension int
	VectorMetric    string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
