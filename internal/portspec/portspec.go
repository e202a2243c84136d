// Package portspec parses port arguments ("8080", ":8080", "8000-8999",
// "80,443") and enumerates half-open port ranges.
package portspec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxPort is the highest valid port number.
const MaxPort = 65535

// ErrInvalidPort is returned for tokens that are not a port, a port range, or
// that fall outside 0..65535.
var ErrInvalidPort = errors.New("invalid port")

// Parse converts port tokens into an ordered list of unique ports.
// Each argument may hold several comma separated tokens. A token is a single
// port ("8080" or ":8080") or an inclusive range ("8000-8099"). Arguments
// that hold no token at all are an error.
func Parse(args []string) ([]int, error) {
	var ports []int
	seen := make(map[int]bool)

	for _, arg := range args {
		for _, token := range strings.Split(arg, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}

			expanded, err := parseToken(token)
			if err != nil {
				return nil, err
			}

			for _, p := range expanded {
				if seen[p] {
					continue
				}
				seen[p] = true
				ports = append(ports, p)
			}
		}
	}

	if len(args) > 0 && len(ports) == 0 {
		return nil, fmt.Errorf("%w: %q names no ports", ErrInvalidPort, strings.Join(args, " "))
	}

	return ports, nil
}

func parseToken(token string) ([]int, error) {
	token = strings.TrimPrefix(token, ":")

	lo, hi, isRange := strings.Cut(token, "-")
	if !isRange {
		p, err := parsePort(token)
		if err != nil {
			return nil, err
		}
		return []int{p}, nil
	}

	from, err := parsePort(lo)
	if err != nil {
		return nil, err
	}
	to, err := parsePort(strings.TrimPrefix(hi, ":"))
	if err != nil {
		return nil, err
	}
	if to < from {
		return nil, fmt.Errorf("%w: range %q is reversed", ErrInvalidPort, token)
	}

	// Dash ranges include their upper bound.
	return Range{From: from, To: to + 1}.Ports(), nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPort, s)
	}
	if p < 0 || p > MaxPort {
		return 0, fmt.Errorf("%w: %d is outside 0-%d", ErrInvalidPort, p, MaxPort)
	}
	return p, nil
}
