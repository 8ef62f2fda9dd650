package sandbox

import "time"

// Policy defines resource limits for sandbox execution.
type Policy struct {
	Timeout          time.Duration // Wall-clock bound for one run
	MaxCodeBytes     int           // Larger submissions are rejected as an error result
	MaxCallStackSize int           // goja call stack depth
	MaxLogLines      int           // console lines kept per run
	MaxMemory        int64         // bytes; container limit for docker, heap growth watchdog for goja

	// Docker backend only.
	Image     string   // node image used for runs
	Images    []string // Allowed Docker images
	PidsLimit int64
	Network   bool // Whether network access is allowed
}

// DefaultPolicy returns safe defaults for grading JavaScript submissions.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:          5 * time.Second,
		MaxCodeBytes:     64 * 1024,
		MaxCallStackSize: 1024,
		MaxLogLines:      50,
		Image:            "node:22-slim",
		Images: []string{
			"node:22-slim",
			"node:20-slim",
		},
		MaxMemory: 128 * 1024 * 1024,
		PidsLimit: 64,
		Network:   false,
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	for _, allowed := range p.Images {
		if allowed == image {
			return true
		}
	}
	return false
}

func (p Policy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultPolicy().Timeout
	}
	return p.Timeout
}
