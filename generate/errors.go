package generate

import "fmt"

// MissingLargeDistroError indicates a generator asked for the large distro on
// a build variant that does not name one.
type MissingLargeDistroError struct {
	TaskName     string
	BuildVariant string
}

func (e *MissingLargeDistroError) Error() string {
	return fmt.Sprintf("task '%s' requested the large distro, but build variant '%s' has no large_distro_name expansion",
		e.TaskName, e.BuildVariant)
}
