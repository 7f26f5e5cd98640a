package chimera

import (
	"github.com/pkg/errors"
)

func errorsCauseIs(err, sentinel error) bool {
	return errors.Cause(err) == sentinel
}
