// Package doctor runs preflight checks for the melnet command.
package doctor

import (
	"fmt"
	"io"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Check is a named probe. Run returns a short detail string on success.
type Check struct {
	Name string
	Run  func() (string, error)
	// Requires names an earlier check that must have passed; otherwise this
	// one is reported as skipped.
	Requires string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes checks in order and writes one line per check to w.
func Run(checks []Check, w io.Writer) Result {
	var res Result

	passed := make(map[string]bool, len(checks))

	for _, c := range checks {
		if c.Requires != "" && !passed[c.Requires] {
			fmt.Fprintf(w, "%s %s: skipped (%s failed)\n", FailMark, c.Name, c.Requires)
			res.fail(fmt.Sprintf("%s: skipped", c.Name))

			continue
		}

		if c.Run == nil {
			fmt.Fprintf(w, "%s %s: skipped\n", PassMark, c.Name)
			passed[c.Name] = true

			continue
		}

		detail, err := c.Run()
		if err != nil {
			res.fail(fmt.Sprintf("%s: %v", c.Name, err))
			fmt.Fprintf(w, "%s %s: %v\n", FailMark, c.Name, err)

			continue
		}

		passed[c.Name] = true

		if detail == "" {
			fmt.Fprintf(w, "%s %s\n", PassMark, c.Name)
		} else {
			fmt.Fprintf(w, "%s %s: %s\n", PassMark, c.Name, detail)
		}
	}

	return res
}
