package temporalx

import (
	"time"

	"github.com/yungbote/adpilot-backend/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	NamespaceRetention    time.Duration

	DialTimeout    time.Duration
	DialMaxWait    time.Duration
	DialBackoff    time.Duration
	DialBackoffMax time.Duration

	// WorkflowID names the singleton feedback-cycle workflow.
	WorkflowID    string
	CycleInterval time.Duration
	// CyclesPerRun bounds workflow history; the run continues as new after this many cycles.
	CyclesPerRun int
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "adpilot"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "adpilot-cycles"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		NamespaceRetention:    envutil.Duration("TEMPORAL_NAMESPACE_RETENTION", 7*24*time.Hour),

		DialTimeout:    envutil.Duration("TEMPORAL_DIAL_TIMEOUT", 5*time.Second),
		DialMaxWait:    envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", time.Minute),
		DialBackoff:    envutil.Duration("TEMPORAL_DIAL_BACKOFF", 250*time.Millisecond),
		DialBackoffMax: envutil.Duration("TEMPORAL_DIAL_BACKOFF_MAX", 5*time.Second),

		WorkflowID:    envutil.String("TEMPORAL_CYCLE_WORKFLOW_ID", "adpilot-feedback-cycle"),
		CycleInterval: envutil.Duration("FEEDBACK_CYCLE_INTERVAL", 15*time.Minute),
		CyclesPerRun:  envutil.Int("TEMPORAL_CYCLES_PER_RUN", 96),
	}
}

func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) mtls() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
