package session

// Row mirrors one row of the sessions table. UpdatedAt is in Unix
// milliseconds.
type Row struct {
	VolumeID     string
	Axis         int
	Position     int
	WindowRadius int
	UpdatedAt    int64
}
