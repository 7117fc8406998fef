package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// textFormatter renders "2006-01-02 15:04:05 [LEVEL] [cat] msg k=v ..." lines
// with fields in stable order.
type textFormatter struct{}

func (f *textFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b strings.Builder

	b.WriteString(e.Time.Format("2006-01-02 15:04:05"))

	level := e.Level.String()
	if level == "warning" {
		level = "warn"
	}
	fmt.Fprintf(&b, " [%s]", strings.ToUpper(level))

	if cat, ok := e.Data["cat"]; ok {
		fmt.Fprintf(&b, " [%v]", cat)
	}

	b.WriteString(" ")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k != "cat" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}

	b.WriteString("\n")
	return []byte(b.String()), nil
}
