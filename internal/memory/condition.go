package memory

import (
	"fmt"
	"strconv"
	"strings"
)

// conditionOps in match order: two-character operators first so ">=" is
// not read as ">" followed by "= 0.7".
var conditionOps = []string{">=", "<=", ">", "<", "="}

// ParseCondition splits a score condition like ">= 0.7" into its operator
// and threshold. A bare number means equality. The threshold is clamped to
// [0, 1] since every score column lives in that range.
func ParseCondition(s string) (op string, threshold float64, err error) {
	s = strings.TrimSpace(s)
	op = "="
	for _, candidate := range conditionOps {
		if strings.HasPrefix(s, candidate) {
			op = candidate
			s = strings.TrimSpace(strings.TrimPrefix(s, candidate))
			break
		}
	}

	threshold, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: condition threshold %q is not a number", ErrInvalidArgument, s)
	}
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return op, threshold, nil
}
