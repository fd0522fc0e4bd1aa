package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors joins non-nil errors into one. A single survivor is
// returned unchanged so its cause chain stays inspectable.
func FoldErrors(errs []error) error {
	var last error
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			last = e
			ss = append(ss, e.Error())
		}
	}
	switch len(ss) {
	case 0:
		return nil
	case 1:
		return last
	}
	return errors.New(strings.Join(ss, "\n"))
}
