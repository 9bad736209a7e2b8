package cgroup

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// psiLinePrefixFull and psiLinePrefixSome are the two line kinds a PSI file
// can contain: "some ..." (any task stalled) and "full ..." (all non-idle
// tasks stalled simultaneously).
const (
	psiLinePrefixFull = "full"
	psiLinePrefixSome = "some"
)

// ParsePSI parses the contents of a PSI file (memory.pressure, io.pressure,
// /proc/pressure/memory, /proc/pressure/io). preferFull selects the "full"
// line when present, falling back to "some"; when preferFull is false the
// "some" line is used, falling back to "full" when no "some" line is
// present. The kernel format is:
//
//	some avg10=F avg60=F avg300=F total=U
//	full avg10=F avg60=F avg300=F total=U
//
// At least the three avgN= tokens must be present; total= is optional.
func ParsePSI(data []byte, preferFull bool) (Pressure, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))

	var full, some *Pressure

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case psiLinePrefixFull:
			p, err := parsePSIFields(fields[1:])
			if err != nil {
				return Pressure{}, err
			}

			full = &p
		case psiLinePrefixSome:
			p, err := parsePSIFields(fields[1:])
			if err != nil {
				return Pressure{}, err
			}

			some = &p
		}
	}

	if preferFull && full != nil {
		return *full, nil
	}

	if some != nil {
		return *some, nil
	}

	if full != nil {
		return *full, nil
	}

	return Pressure{}, newError(KindPressureUnavailable, "parse_psi", "", errNoPSILine)
}

var errNoPSILine = fmt.Errorf("no usable PSI line found")

func parsePSIFields(fields []string) (Pressure, error) {
	var p Pressure

	var sawAvg10, sawAvg60, sawAvg300 bool

	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			return Pressure{}, newError(KindParse, "parse_psi", "", fmt.Errorf("malformed token %q", f))
		}

		switch kv[0] {
		case "avg10":
			v, err := strconv.ParseFloat(kv[1], 64)
			if err != nil {
				return Pressure{}, newError(KindParse, "parse_psi", "", err)
			}

			p.Sec10 = v
			sawAvg10 = true
		case "avg60":
			v, err := strconv.ParseFloat(kv[1], 64)
			if err != nil {
				return Pressure{}, newError(KindParse, "parse_psi", "", err)
			}

			p.Sec60 = v
			sawAvg60 = true
		case "avg300":
			v, err := strconv.ParseFloat(kv[1], 64)
			if err != nil {
				return Pressure{}, newError(KindParse, "parse_psi", "", err)
			}

			p.Sec300 = v
			sawAvg300 = true
		case "total":
			v, err := strconv.ParseUint(kv[1], 10, 64)
			if err != nil {
				return Pressure{}, newError(KindParse, "parse_psi", "", err)
			}

			p.Total = v
			p.HasTotal = true
		}
	}

	if !sawAvg10 || !sawAvg60 || !sawAvg300 {
		return Pressure{}, newError(KindParse, "parse_psi", "", fmt.Errorf("missing required avgN= token"))
	}

	return p, nil
}

// FormatPSI renders a Pressure back into the canonical kernel line format,
// using lineKind ("some" or "full") as the leading token. Re-parsing the
// result with ParsePSI reproduces the same Pressure (property 5, spec.md §8).
func FormatPSI(lineKind string, p Pressure) string {
	s := fmt.Sprintf("%s avg10=%.2f avg60=%.2f avg300=%.2f", lineKind, p.Sec10, p.Sec60, p.Sec300)
	if p.HasTotal {
		s += fmt.Sprintf(" total=%d", p.Total)
	}

	return s
}
