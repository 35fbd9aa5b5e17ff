package preflight

// Plan selects the checks a command needs before it touches anything.
type Plan struct {
	RootReadable     bool
	ExecutorRunnable bool
	LockDirWritable  bool
	ArchiveWritable  bool

	// Global Flags
	DryRun bool
}

// Targets names the paths the checks run against. Paths must be absolute.
type Targets struct {
	Root     string
	Executor string
	LockDir  string
	Archive  string
}
