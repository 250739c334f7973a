package quiz

import "errors"

var (
	ErrNoData           = errors.New("species data not loaded")
	ErrNoRecords        = errors.New("no records to pick from")
	ErrNoMatches        = errors.New("no species match the active filter")
	ErrNoEligibleFields = errors.New("no fields to quiz on")
	ErrNoQuestion       = errors.New("no question loaded")
	ErrUnknownField     = errors.New("unknown field")
	ErrFieldNotEligible = errors.New("field is not being quizzed")
)

// Messages shown to the player.
const (
	MsgNoData       = "Could not load species data. Check the data file and that the server is running."
	MsgNoMatches    = "No species match the current filter. Clear or change the filter."
	MsgSelectField  = "Select at least one field (or this row is missing data for your selected fields)."
	MsgNoFieldGrade = "Select at least one field to be tested on."
	MsgNoQuestion   = "No question loaded yet. Click Next or refresh."
	MsgCorrect      = "Correct!"
	MsgWrong        = "Wrong. Correct answers:"
)
