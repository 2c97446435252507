package config

// TrustConfig configures the trust store and action gate.
type TrustConfig struct {
	// DBPath is the SQLite database holding trust records and face
	// embeddings.
	DBPath string `yaml:"db_path"`

	// RulesPath optionally points at a Datalog rules file that replaces
	// the embedded gate policy. Watched for changes while running.
	RulesPath string `yaml:"rules_path"`

	// Owner is the identity attributed to CLI-origin actions (enroll,
	// trust set). It must hold owner trust in the store.
	Owner string `yaml:"owner"`

	// Required maps risk class to the minimum trust level that may
	// perform it. Omitted classes use the built-in defaults.
	Required map[string]string `yaml:"required"`
}
