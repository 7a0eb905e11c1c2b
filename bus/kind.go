package bus

import (
	"fmt"
	"strings"
)

// msgKind returns a short human name for a message type, e.g.
// "contract.SubmitJob" becomes "SubmitJob".
func msgKind(msg any) string {
	s := fmt.Sprintf("%T", msg)
	s = strings.TrimPrefix(s, "*")
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return s
}
