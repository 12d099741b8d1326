package requirements

// FormStatus is the requirements form lifecycle: draft until submission,
// completed after. Completed is terminal; there is no in-product reopening.
type FormStatus string

const (
	FormDraft     FormStatus = "draft"
	FormCompleted FormStatus = "completed"
)

func (s FormStatus) CanTransition(to FormStatus) bool {
	return s == FormDraft && to == FormCompleted
}
