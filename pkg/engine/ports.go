package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// normalizePort canonicalises a spec port value into "<num>/<proto>"
// form (spec.md §4.4: "a port value that is an integer, or a string
// without '/', defaults to protocol tcp").
func normalizePort(raw string) (canonical string, num int, proto string, err error) {
	proto = "tcp"
	numPart := raw
	if idx := strings.IndexByte(raw, '/'); idx >= 0 {
		numPart = raw[:idx]
		proto = raw[idx+1:]
	}
	num, err = strconv.Atoi(strings.TrimSpace(numPart))
	if err != nil {
		return "", 0, "", fmt.Errorf("invalid port %q: %w", raw, err)
	}
	return fmt.Sprintf("%d/%s", num, proto), num, proto, nil
}

// parseShmSize parses a runtime size string ("128m", "1g", a bare
// byte count) into bytes. Returns 0 for an empty string, meaning
// "use the runtime default".
func parseShmSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	multiplier := int64(1)
	suffix := raw[len(raw)-1]
	numPart := raw
	switch suffix {
	case 'b', 'B':
		numPart = raw[:len(raw)-1]
	case 'k', 'K':
		multiplier = 1 << 10
		numPart = raw[:len(raw)-1]
	case 'm', 'M':
		multiplier = 1 << 20
		numPart = raw[:len(raw)-1]
	case 'g', 'G':
		multiplier = 1 << 30
		numPart = raw[:len(raw)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid shm_size %q: %w", raw, err)
	}
	return n * multiplier, nil
}
