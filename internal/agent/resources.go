package agent

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// memoryBytes converts a docker-style size ("1g", "512m", "1.5GiB") to bytes.
// Empty or "0" means unlimited.
func memoryBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("agent.memoryBytes(%q): %w", s, err)
	}
	return n, nil
}

// nanoCPUs converts a fractional CPU count ("1", "0.5") to the NanoCPUs unit
// the Docker API expects. Empty or "0" means unlimited.
func nanoCPUs(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	cpus, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("agent.nanoCPUs(%q): %w", s, err)
	}
	if cpus < 0 || math.IsInf(cpus, 0) || math.IsNaN(cpus) {
		return 0, fmt.Errorf("agent.nanoCPUs(%q): out of range", s)
	}
	return int64(math.Round(cpus * 1e9)), nil
}
