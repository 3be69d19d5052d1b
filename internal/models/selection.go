package models

import "time"

// SelectionFilter describes which score records may enter a snapshot
type SelectionFilter struct {
	QueueType     QueueType
	Now           time.Time
	CoolingCutoff time.Time // non-zero scores must be created at or before this instant
	Limit         int
}

// Selection is the window a snapshot is built from. Eligible counts every record that passed
// the filter, including the ones cut by the window limit; zero means the store did not count
type Selection struct {
	Records  []ScoreRecord
	Eligible int
}
